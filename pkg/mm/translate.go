// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mm

import (
	"mikros.dev/mikros/pkg/abi/mikros"
)

// AccessType describes the access a translation is asked to permit.
type AccessType struct {
	// Write is a write access.
	Write bool

	// User is an access from ring 3.
	User bool
}

// Fault describes a failed translation the way the hardware would report
// it: the faulting address and the page fault error code bits.
type Fault struct {
	// Addr is the faulting virtual address, what CR2 would hold.
	Addr uint32

	// Write reports whether the access was a write.
	Write bool

	// User reports whether the access came from ring 3.
	User bool

	// Present reports whether the PTE was present (a protection fault
	// rather than a missing page).
	Present bool
}

// ErrorCode returns the page fault error code the CPU would push.
func (f *Fault) ErrorCode() uint32 {
	var code uint32
	if f.Present {
		code |= 1
	}
	if f.Write {
		code |= 2
	}
	if f.User {
		code |= 4
	}
	return code
}

// Translate walks pd for va and checks the access against the PTE bits.
// The directory's user bit is honored as on hardware: a ring 3 access needs
// the user bit in both levels.
func (mm *Memory) Translate(pd, va uint32, at AccessType) (uint32, *Fault) {
	fault := &Fault{Addr: va, Write: at.Write, User: at.User}

	pde := mm.LookupPDE(pd, va)
	if pde&PtePresent == 0 {
		return 0, fault
	}
	if at.User && pde&PteUser == 0 {
		fault.Present = true
		return 0, fault
	}

	pte := mm.LookupPTE(pd, va)
	if pte&PtePresent == 0 {
		return 0, fault
	}
	fault.Present = true
	if at.User && pte&PteUser == 0 {
		return 0, fault
	}
	if at.Write && pte&PteWrite == 0 {
		return 0, fault
	}

	return pte&pteAddrMask | va&(mikros.PageSize-1), nil
}

// CopyFromUser copies length bytes from va in pd, page by page, with user
// read access checks on every page.
func (mm *Memory) CopyFromUser(pd, va, length uint32) ([]byte, *Fault) {
	out := make([]byte, 0, length)
	for length > 0 {
		pa, fault := mm.Translate(pd, va, AccessType{User: true})
		if fault != nil {
			return nil, fault
		}
		n := mikros.PageSize - va%mikros.PageSize
		if n > length {
			n = length
		}
		out = append(out, mm.m.ReadBytes(pa, n)...)
		va += n
		length -= n
	}
	return out, nil
}

// CopyToUser copies data to va in pd, page by page, with user write access
// checks on every page.
func (mm *Memory) CopyToUser(pd, va uint32, data []byte) *Fault {
	for len(data) > 0 {
		pa, fault := mm.Translate(pd, va, AccessType{Write: true, User: true})
		if fault != nil {
			return fault
		}
		n := mikros.PageSize - va%mikros.PageSize
		if n > uint32(len(data)) {
			n = uint32(len(data))
		}
		mm.m.WriteBytes(pa, data[:n])
		va += n
		data = data[n:]
	}
	return nil
}

// CopyStringFromUser copies a NUL-terminated string of at most maxLen bytes
// from va in pd.
func (mm *Memory) CopyStringFromUser(pd, va, maxLen uint32) (string, *Fault) {
	var out []byte
	for uint32(len(out)) < maxLen {
		pa, fault := mm.Translate(pd, va, AccessType{User: true})
		if fault != nil {
			return "", fault
		}
		b := mm.m.Read8(pa)
		if b == 0 {
			break
		}
		out = append(out, b)
		va++
	}
	return string(out), nil
}
