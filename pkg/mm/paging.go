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

// Page table entry bits.
const (
	PtePresent = 0x001
	PteWrite   = 0x002
	PteUser    = 0x004

	pteFlagsMask = 0xFFF
	pteAddrMask  = ^uint32(pteFlagsMask)
)

// Flag combinations for the two kinds of mappings the kernel makes.
const (
	FlagsKernel = PtePresent | PteWrite
	FlagsUser   = PtePresent | PteWrite | PteUser
)

const entriesPerTable = 1024

// NewPageDirectory allocates and zeroes one frame for a page directory.
func (mm *Memory) NewPageDirectory() (uint32, bool) {
	return mm.AllocZeroedPages(1)
}

// DestroyPageDirectory walks the present directory entries, frees the
// referenced page tables, then the directory frame itself. Every directory
// owns its tables, including the per-directory copies of the kernel
// mapping, so this releases exactly what construction allocated.
func (mm *Memory) DestroyPageDirectory(pd uint32) {
	for i := uint32(0); i < entriesPerTable; i++ {
		pde := mm.m.Read32(pd + i*4)
		if pde&PtePresent != 0 {
			mm.FreePages(pde&pteAddrMask, 1)
		}
	}
	mm.FreePages(pd, 1)
}

// MapKernel installs the identity mapping of the full tracked RAM range
// into pd at supervisor privilege. Every address space gets this before any
// user mapping so that trap handlers and kernel stacks stay reachable after
// a CR3 switch.
func (mm *Memory) MapKernel(pd uint32) bool {
	pages := mm.m.MemorySize() / mikros.PageSize
	for i := uint32(0); i < pages; i++ {
		addr := i * mikros.PageSize
		if !mm.MapPage(pd, addr, addr, FlagsKernel) {
			return false
		}
	}
	return true
}

// MapPage points va at pa in pd. The page table is allocated and zeroed on
// demand. A user-accessible mapping propagates the user bit to the
// directory entry so the table itself is reachable from ring 3. A change
// visible through the loaded CR3 flushes the TLB.
func (mm *Memory) MapPage(pd, va, pa, flags uint32) bool {
	pdIndex := va >> 22
	ptIndex := (va >> 12) & 0x3FF

	pde := mm.m.Read32(pd + pdIndex*4)
	var table uint32
	if pde&PtePresent == 0 {
		t, ok := mm.AllocZeroedPages(1)
		if !ok {
			return false
		}
		table = t
		mm.m.Write32(pd+pdIndex*4, table|(flags&(PteWrite|PteUser))|PtePresent)
	} else {
		table = pde & pteAddrMask
		if flags&PteUser != 0 {
			mm.m.Write32(pd+pdIndex*4, pde|PteUser)
		}
	}

	mm.m.Write32(table+ptIndex*4, (pa&pteAddrMask)|(flags&pteFlagsMask)|PtePresent)

	if mm.m.CR3() == pd {
		mm.m.FlushTLB()
	}
	return true
}

// UnmapPage clears the mapping of va in pd. Unmapping an absent page is a
// no-op.
func (mm *Memory) UnmapPage(pd, va uint32) {
	pdIndex := va >> 22
	ptIndex := (va >> 12) & 0x3FF

	pde := mm.m.Read32(pd + pdIndex*4)
	if pde&PtePresent == 0 {
		return
	}
	table := pde & pteAddrMask
	mm.m.Write32(table+ptIndex*4, 0)

	if mm.m.CR3() == pd {
		mm.m.FlushTLB()
	}
}

// LookupPTE returns the raw page table entry for va, or zero when the walk
// finds no present table.
func (mm *Memory) LookupPTE(pd, va uint32) uint32 {
	pde := mm.m.Read32(pd + (va>>22)*4)
	if pde&PtePresent == 0 {
		return 0
	}
	table := pde & pteAddrMask
	return mm.m.Read32(table + ((va>>12)&0x3FF)*4)
}

// LookupPDE returns the raw directory entry covering va.
func (mm *Memory) LookupPDE(pd, va uint32) uint32 {
	return mm.m.Read32(pd + (va>>22)*4)
}
