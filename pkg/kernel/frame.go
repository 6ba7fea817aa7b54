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

package kernel

import (
	"mikros.dev/mikros/pkg/hal"
)

// TrapFrame is the uniform record of a task's architectural state on entry
// to a handler: the four data segment selectors, the general registers in
// pusha order, the normalized (int_no, err_code) pair, and the CPU-pushed
// EIP/CS/EFLAGS tail, extended by the user stack pair on a cross-ring
// entry.
//
// The fields are declared in stack memory order, lowest address first.
type TrapFrame struct {
	GS uint32
	FS uint32
	ES uint32
	DS uint32

	EDI  uint32
	ESI  uint32
	EBP  uint32
	KESP uint32
	EBX  uint32
	EDX  uint32
	ECX  uint32
	EAX  uint32

	IntNo   uint32
	ErrCode uint32

	EIP    uint32
	CS     uint32
	EFLAGS uint32

	// UserESP and UserSS are present only when the CPU entered from ring
	// 3 and pushed the outer stack.
	UserESP uint32
	UserSS  uint32

	// CrossRing records whether the user stack pair is part of the frame.
	// It is derived, not stored on the stack.
	CrossRing bool
}

// Trap frame sizes in bytes.
const (
	trapFrameSize      = 17 * 4
	trapFrameCrossSize = 19 * 4
)

// frameOffEAX is the offset of the EAX slot from the frame base; the
// syscall dispatcher writes results there before the unwind.
const frameOffEAX = 11 * 4

// Size returns the frame's on-stack size.
func (f *TrapFrame) Size() uint32 {
	if f.CrossRing {
		return trapFrameCrossSize
	}
	return trapFrameSize
}

// writeTrapFrame pushes f below sp on the simulated stack and returns the
// new stack pointer, which is also the frame base.
func (k *Kernel) writeTrapFrame(sp uint32, f *TrapFrame) uint32 {
	base := sp - f.Size()
	words := []uint32{
		f.GS, f.FS, f.ES, f.DS,
		f.EDI, f.ESI, f.EBP, f.KESP, f.EBX, f.EDX, f.ECX, f.EAX,
		f.IntNo, f.ErrCode,
		f.EIP, f.CS, f.EFLAGS,
	}
	if f.CrossRing {
		words = append(words, f.UserESP, f.UserSS)
	}
	for i, w := range words {
		k.m.Write32(base+uint32(i)*4, w)
	}
	return base
}

// readTrapFrame reads a frame from its base address.
func (k *Kernel) readTrapFrame(base uint32, crossRing bool) *TrapFrame {
	f := &TrapFrame{CrossRing: crossRing}
	f.GS = k.m.Read32(base + 0*4)
	f.FS = k.m.Read32(base + 1*4)
	f.ES = k.m.Read32(base + 2*4)
	f.DS = k.m.Read32(base + 3*4)
	f.EDI = k.m.Read32(base + 4*4)
	f.ESI = k.m.Read32(base + 5*4)
	f.EBP = k.m.Read32(base + 6*4)
	f.KESP = k.m.Read32(base + 7*4)
	f.EBX = k.m.Read32(base + 8*4)
	f.EDX = k.m.Read32(base + 9*4)
	f.ECX = k.m.Read32(base + 10*4)
	f.EAX = k.m.Read32(base + 11*4)
	f.IntNo = k.m.Read32(base + 12*4)
	f.ErrCode = k.m.Read32(base + 13*4)
	f.EIP = k.m.Read32(base + 14*4)
	f.CS = k.m.Read32(base + 15*4)
	f.EFLAGS = k.m.Read32(base + 16*4)
	if crossRing {
		f.UserESP = k.m.Read32(base + 17*4)
		f.UserSS = k.m.Read32(base + 18*4)
	}
	return f
}

// frameFromRegs captures the current register file into a frame for the
// given vector and error code.
func (k *Kernel) frameFromRegs(vec, errCode uint32) *TrapFrame {
	r := &k.m.Regs
	f := &TrapFrame{
		GS: r.GS, FS: r.FS, ES: r.ES, DS: r.DS,
		EDI: r.EDI, ESI: r.ESI, EBP: r.EBP, KESP: r.ESP,
		EBX: r.EBX, EDX: r.EDX, ECX: r.ECX, EAX: r.EAX,
		IntNo: vec, ErrCode: errCode,
		EIP: r.EIP, CS: r.CS, EFLAGS: r.EFLAGS,
	}
	if k.m.CPL() == 3 {
		f.CrossRing = true
		f.UserESP = r.ESP
		f.UserSS = r.SS
	}
	return f
}

// restoreRegs performs the unwind contract of the trap stubs: restore every
// register the entry saved, skip the synthesized pair, and iret. On a
// cross-ring frame the outer stack pair comes back too.
func (k *Kernel) restoreRegs(f *TrapFrame) {
	r := &k.m.Regs
	r.GS, r.FS, r.ES, r.DS = f.GS, f.FS, f.ES, f.DS
	r.EDI, r.ESI, r.EBP = f.EDI, f.ESI, f.EBP
	r.EBX, r.EDX, r.ECX, r.EAX = f.EBX, f.EDX, f.ECX, f.EAX
	r.EIP, r.CS, r.EFLAGS = f.EIP, f.CS, f.EFLAGS
	if f.CrossRing {
		r.ESP = f.UserESP
		r.SS = f.UserSS
	} else {
		r.ESP = f.KESP
	}
	if f.EFLAGS&hal.FlagIF != 0 {
		k.m.EnableInterrupts()
	} else {
		k.m.DisableInterrupts()
	}
}
