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

// Registers is the architectural register file visible to the trap layer.
// The general registers are listed in pusha order.
type Registers struct {
	EAX uint32
	ECX uint32
	EDX uint32
	EBX uint32
	ESP uint32
	EBP uint32
	ESI uint32
	EDI uint32

	EIP    uint32
	EFLAGS uint32

	CS uint32
	SS uint32
	DS uint32
	ES uint32
	FS uint32
	GS uint32
}

// EFLAGS bits the kernel cares about.
const (
	// FlagIF is the interrupt enable flag.
	FlagIF = 0x200

	// FlagsDefault is the EFLAGS value installed in fresh task frames:
	// reserved bit 1 set and interrupts enabled.
	FlagsDefault = 0x202
)

// CR0 bits.
const (
	// CR0PE enables protected mode.
	CR0PE = 1 << 0

	// CR0PG enables paging.
	CR0PG = 1 << 31
)

// CPU feature bits reported by the CPUID probe.
const (
	CPUFeatFPU  = 1 << 0
	CPUFeatMMX  = 1 << 1
	CPUFeatSSE  = 1 << 2
	CPUFeatSSE2 = 1 << 3
	CPUFeatAPIC = 1 << 4
)

// CR0 returns the CR0 register.
func (m *Machine) CR0() uint32 {
	return m.cr0
}

// SetCR0 writes the CR0 register.
func (m *Machine) SetCR0(v uint32) {
	m.cr0 = v
}

// CR2 returns the CR2 register, the last page fault address.
func (m *Machine) CR2() uint32 {
	return m.cr2
}

// SetCR2 records a page fault address. Only the trap layer writes this.
func (m *Machine) SetCR2(v uint32) {
	m.cr2 = v
}

// CR3 returns the loaded page directory base.
func (m *Machine) CR3() uint32 {
	return m.cr3
}

// SetCR3 loads a page directory base. Loading CR3 invalidates the TLB.
func (m *Machine) SetCR3(pd uint32) {
	m.cr3 = pd
	m.tlbFlushes++
}

// EnablePaging loads pd into CR3 and sets CR0.PG.
func (m *Machine) EnablePaging(pd uint32) {
	m.SetCR3(pd)
	m.cr0 |= CR0PG
}

// PagingEnabled reports whether CR0.PG is set.
func (m *Machine) PagingEnabled() bool {
	return m.cr0&CR0PG != 0
}

// FlushTLB invalidates the TLB by reloading CR3.
func (m *Machine) FlushTLB() {
	m.tlbFlushes++
}

// TLBFlushes returns the number of TLB invalidations so far.
func (m *Machine) TLBFlushes() uint64 {
	return m.tlbFlushes
}

// EnableInterrupts executes sti.
func (m *Machine) EnableInterrupts() {
	m.interruptsOn = true
	m.Regs.EFLAGS |= FlagIF
}

// DisableInterrupts executes cli.
func (m *Machine) DisableInterrupts() {
	m.interruptsOn = false
	m.Regs.EFLAGS &^= FlagIF
}

// InterruptsEnabled reports the interrupt flag.
func (m *Machine) InterruptsEnabled() bool {
	return m.interruptsOn
}

// Halt executes hlt: the CPU sleeps until the next interrupt, so the clock
// advances directly to the next pending timer expiry.
func (m *Machine) Halt() {
	m.halted = true
	m.pit.fastForward()
	m.halted = false
}

// CPL returns the current privilege level from the CS selector.
func (m *Machine) CPL() uint32 {
	return m.Regs.CS & 3
}

// CPUID probes the simulated CPU feature set. The software machine always
// has the baseline features an i586 target expects.
func (m *Machine) CPUID() uint32 {
	return CPUFeatFPU | CPUFeatMMX | CPUFeatSSE | CPUFeatSSE2 | CPUFeatAPIC
}

// AdvanceCycles moves the machine clock forward, driving the PIT.
func (m *Machine) AdvanceCycles(n uint64) {
	m.clock += n
	m.pit.advance(n)
}

// StepCycles burns the configured cost of one user program step.
func (m *Machine) StepCycles() {
	m.AdvanceCycles(m.conf.CyclesPerStep)
}
