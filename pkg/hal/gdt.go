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

package hal

import (
	"fmt"
)

// GDTEntries is the number of descriptors the kernel installs: null, kernel
// code/data, user code/data, TSS.
const GDTEntries = 6

// GDT slot indices.
const (
	SegNull = iota
	SegKernelCode
	SegKernelData
	SegUserCode
	SegUserData
	SegTSS
)

// Access byte values for the descriptors the kernel uses.
const (
	AccessKernelCode = 0x9A
	AccessKernelData = 0x92
	AccessUserCode   = 0xFA
	AccessUserData   = 0xF2
	AccessTSS        = 0x89
)

// GranFlat is the granularity byte for a flat 4 GiB segment: 4 KiB pages,
// 32-bit.
const GranFlat = 0xCF

// SegmentDescriptor is one 8-byte GDT entry, split the way the hardware
// splits it.
type SegmentDescriptor struct {
	LimitLow   uint16
	BaseLow    uint16
	BaseMiddle uint8
	Access     uint8
	Granularity uint8
	BaseHigh   uint8
}

// Set fills the descriptor from a base, limit, access byte and granularity
// byte.
func (d *SegmentDescriptor) Set(base, limit uint32, access, gran uint8) {
	d.BaseLow = uint16(base)
	d.BaseMiddle = uint8(base >> 16)
	d.BaseHigh = uint8(base >> 24)
	d.LimitLow = uint16(limit)
	d.Granularity = uint8(limit>>16)&0x0F | gran&0xF0
	d.Access = access
}

// SetNull zeroes the descriptor.
func (d *SegmentDescriptor) SetNull() {
	*d = SegmentDescriptor{}
}

// Base reconstructs the descriptor base address.
func (d *SegmentDescriptor) Base() uint32 {
	return uint32(d.BaseLow) | uint32(d.BaseMiddle)<<16 | uint32(d.BaseHigh)<<24
}

// TaskState is the 32-bit TSS. Only ESP0/SS0 matter to this kernel: they
// name the stack the CPU switches to on a ring 3 to ring 0 transition.
type TaskState struct {
	PrevTSS   uint32
	ESP0      uint32
	SS0       uint32
	ESP1      uint32
	SS1       uint32
	ESP2      uint32
	SS2       uint32
	CR3       uint32
	EIP       uint32
	EFLAGS    uint32
	EAX       uint32
	ECX       uint32
	EDX       uint32
	EBX       uint32
	ESP       uint32
	EBP       uint32
	ESI       uint32
	EDI       uint32
	ES        uint32
	CS        uint32
	SS        uint32
	DS        uint32
	FS        uint32
	GS        uint32
	LDT       uint32
	Trap      uint16
	IOMapBase uint16
}

// LoadGDT installs a descriptor table, as lgdt plus the segment reloads
// would.
func (m *Machine) LoadGDT(gdt [GDTEntries]SegmentDescriptor) {
	m.gdt = gdt
	m.gdtSet = true
}

// GDT returns the loaded descriptor table.
func (m *Machine) GDT() [GDTEntries]SegmentDescriptor {
	return m.gdt
}

// LoadTaskRegister records the TSS selector, as ltr would.
func (m *Machine) LoadTaskRegister(sel uint16) {
	if !m.gdtSet {
		panic("ltr before lgdt")
	}
	if int(sel/8) != SegTSS {
		panic(fmt.Sprintf("ltr with unexpected selector %#x", sel))
	}
	m.trSel = sel
}

// TaskRegister returns the loaded TSS selector.
func (m *Machine) TaskRegister() uint16 {
	return m.trSel
}

// SetTSS installs the task state segment contents.
func (m *Machine) SetTSS(tss TaskState) {
	m.tss = tss
}

// TSS returns the current task state segment contents.
func (m *Machine) TSS() TaskState {
	return m.tss
}

// SetTSSESP0 updates the ring 0 stack pointer the next ring transition will
// use. The scheduler calls this on every switch.
func (m *Machine) SetTSSESP0(esp0 uint32) {
	m.tss.ESP0 = esp0
}
