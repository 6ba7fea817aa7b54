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
	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/hal"
	"mikros.dev/mikros/pkg/log"
)

// The trap and interrupt layer. Vectors 0-31 are CPU exceptions, 32-47 the
// remapped IRQ range, and 0x80 the user-callable syscall gate. Every entry
// funnels through trapEnter, which builds the uniform frame on the kernel
// stack of the interrupted context, and every exit through trapReturn,
// which restores exactly what entry saved.

const (
	idtEntries    = 256
	vectorIRQBase = 0x20

	// idtBaseAddr is where the descriptor table sits in the kernel image,
	// by link convention.
	idtBaseAddr = 0x00180000
)

// Exception vectors the kernel names in diagnostics.
const (
	vecDivideError     = 0
	vecBreakpoint      = 3
	vecInvalidOpcode   = 6
	vecDoubleFault     = 8
	vecGeneralProtection = 13
	vecPageFault       = 14
)

var exceptionNames = [32]string{
	0:  "divide error",
	1:  "debug",
	2:  "non-maskable interrupt",
	3:  "breakpoint",
	4:  "overflow",
	5:  "bound range exceeded",
	6:  "invalid opcode",
	7:  "device not available",
	8:  "double fault",
	10: "invalid TSS",
	11: "segment not present",
	12: "stack segment fault",
	13: "general protection fault",
	14: "page fault",
	16: "x87 floating point",
	17: "alignment check",
	18: "machine check",
	19: "SIMD floating point",
}

// gateDescriptor is one IDT entry, split the way the hardware splits it.
type gateDescriptor struct {
	BaseLow  uint16
	Selector uint16
	Zero     uint8
	TypeAttr uint8
	BaseHigh uint16
}

func (g *gateDescriptor) set(base uint32, selector uint16, typeAttr uint8) {
	g.BaseLow = uint16(base)
	g.BaseHigh = uint16(base >> 16)
	g.Selector = selector
	g.Zero = 0
	g.TypeAttr = typeAttr
}

func (g *gateDescriptor) present() bool {
	return g.TypeAttr&0x80 != 0
}

func (g *gateDescriptor) dpl() uint32 {
	return uint32(g.TypeAttr>>5) & 3
}

// interruptInit installs the 256-entry IDT and the IRQ handler table, and
// binds the shared return stubs.
func (k *Kernel) interruptInit() {
	// The shared trap-return stub doubles as the first-run trampoline: it
	// pops the segment and general registers, skips the synthesized
	// (int_no, err_code) pair, and irets.
	k.trampoline = k.m.BindSymbol("trap_return", k.trampolineStub)
	k.resumeAddr = k.m.BindSymbol("switch_resume", func() {
		// Reached only through the context switch dispatch, which
		// handles resumeAddr before consulting symbols.
		k.Panic("switch_resume invoked directly")
	})

	// Low-level entry stubs. Each gets a distinct text address so the IDT
	// is populated with real targets; delivery dispatches on the vector.
	for v := 0; v < 32; v++ {
		vec := uint32(v)
		addr := k.m.BindSymbol(stubName(vec), func() { k.Panic("exception stub %d entered outside delivery", vec) })
		k.idt[vec].set(addr, mikros.SelKernelCode, 0x8E)
	}
	for v := uint32(vectorIRQBase); v < vectorIRQBase+16; v++ {
		vec := v
		addr := k.m.BindSymbol(stubName(vec), func() { k.Panic("irq stub %d entered outside delivery", vec) })
		k.idt[vec].set(addr, mikros.SelKernelCode, 0x8E)
	}
	// The syscall gate is the one user-callable entry.
	syscallAddr := k.m.BindSymbol("syscall_entry", func() { k.Panic("syscall stub entered outside delivery") })
	k.idt[mikros.SyscallVector].set(syscallAddr, mikros.SelKernelCode, 0xEE)

	k.m.LoadIDT(idtBaseAddr, idtEntries*8-1)

	k.irqHandlers[hal.IRQTimer] = k.timerTick
	k.irqHandlers[hal.IRQKeyboard] = k.keyboardInterrupt

	log.Infof("trap: IDT loaded, syscall gate at vector %#x", mikros.SyscallVector)
}

func stubName(vec uint32) string {
	if vec < 32 {
		return "isr_exception"
	}
	return "isr_irq"
}

// trapContext locates a live frame on a kernel stack.
type trapContext struct {
	base  uint32
	cross bool
}

// trapEnter is the single enter-kernel-with-frame point: it builds the
// uniform frame on the kernel stack of the interrupted context, loads the
// kernel segments, and clears the interrupt flag, as the interrupt gate
// would.
func (k *Kernel) trapEnter(vec, errCode uint32) trapContext {
	g := &k.idt[vec]
	if !g.present() {
		k.Panic("trap on vector %d with no gate", vec)
	}
	if vec == mikros.SyscallVector && k.m.CPL() > g.dpl() {
		// Not reachable from a well-formed gate table, but the check
		// mirrors the hardware privilege test.
		k.Panic("syscall gate DPL violation")
	}

	f := k.frameFromRegs(vec, errCode)

	t := k.Current()
	var sp uint32
	if t != nil {
		if f.CrossRing {
			// Ring transition: the CPU switches to the stack named
			// by TSS.esp0.
			t.kernelSP = k.m.TSS().ESP0
		}
		sp = t.kernelSP
	} else {
		sp = k.idleSP
	}

	base := k.writeTrapFrame(sp, f)
	if t != nil {
		t.kernelSP = base
	} else {
		k.idleSP = base
	}

	r := &k.m.Regs
	r.CS = mikros.SelKernelCode
	r.DS = mikros.SelKernelData
	r.ES = mikros.SelKernelData
	r.FS = mikros.SelKernelData
	r.GS = mikros.SelKernelData
	r.ESP = base
	k.m.DisableInterrupts()

	return trapContext{base: base, cross: f.CrossRing}
}

// trapReturn is the matching leave-kernel-with-frame point.
func (k *Kernel) trapReturn(tc trapContext) {
	f := k.readTrapFrame(tc.base, tc.cross)
	if t := k.Current(); t != nil {
		t.kernelSP = tc.base + f.Size()
	} else {
		k.idleSP = tc.base + f.Size()
	}
	k.restoreRegs(f)
}

// trampolineStub is the shared first-run trampoline. The context switch
// "returns" into it the first time a user task is scheduled: it unwinds the
// faked trap frame the process manager built and irets into ring 3, then
// launches the task's execution context.
func (k *Kernel) trampolineStub() {
	t := k.Current()
	if t == nil {
		k.Panic("first-run trampoline with no current task")
	}
	tc := trapContext{base: t.kernelSP, cross: t.isUser}
	k.trapReturn(tc)
	if !t.started {
		t.started = true
		go t.run(k)
	} else {
		t.wake <- struct{}{}
	}
}

// handlePendingInterrupts drains deliverable IRQs into the current context.
// This is the simulation's instruction boundary: it runs between user
// program steps, around syscalls, and from the idle loop.
func (k *Kernel) handlePendingInterrupts() {
	for {
		vec, ok := k.m.PendingInterrupt()
		if !ok {
			return
		}
		k.dispatchIRQ(uint32(vec))
	}
}

// dispatchIRQ runs one hardware interrupt: frame, registered handler, EOI,
// unwind. The handler may suspend the interrupted task; the frame on its
// kernel stack fully describes it until it resumes.
func (k *Kernel) dispatchIRQ(vec uint32) {
	if vec < vectorIRQBase || vec >= vectorIRQBase+16 {
		k.Panic("IRQ dispatch for bad vector %d", vec)
	}
	tc := k.trapEnter(vec, 0)
	irq := vec - vectorIRQBase

	if h := k.irqHandlers[irq]; h != nil {
		h()
	} else {
		k.faultLog.Warningf("trap: unhandled IRQ %d", irq)
	}
	k.m.PICSendEOI(uint(irq))

	// A tick budget from Run suspends the world here, at the IRQ
	// boundary, the same way a debugger would.
	if k.stopAtTick != 0 && k.ticks >= k.stopAtTick {
		if cur := k.Current(); cur != nil && cur.state == TaskRunning {
			cur.state = TaskReady
			k.enqueueReady(cur)
			k.switchToIdle()
		}
	}

	k.trapReturn(tc)
}

// RegisterIRQHandler installs a handler for an IRQ line and unmasks it.
func (k *Kernel) RegisterIRQHandler(irq uint, h func()) {
	if irq >= 16 {
		return
	}
	k.irqHandlers[irq] = h
	k.m.PICUnmaskIRQ(irq)
}

// exception reports a CPU exception and applies the dispatch rule: a ring 3
// fault terminates the current task with the vector as exit code; a kernel
// fault is fatal. Termination never returns to the caller.
func (k *Kernel) exception(vec, errCode uint32) {
	tc := k.trapEnter(vec, errCode)
	f := k.readTrapFrame(tc.base, tc.cross)

	name := "reserved"
	if vec < 32 && exceptionNames[vec] != "" {
		name = exceptionNames[vec]
	}
	k.faultLog.Warningf("trap: %s (vector %d, err %#x) eip=%#x cs=%#x eflags=%#x", name, vec, errCode, f.EIP, f.CS, f.EFLAGS)
	if vec == vecPageFault {
		k.faultLog.Warningf("trap: page fault address %#x", k.m.CR2())
	}

	if f.CS&3 == 3 {
		cur := k.Current()
		if cur == nil {
			k.Panic("ring 3 exception with no current task")
		}
		k.ExitTask(cur, vec)
		// ExitTask on the current task never returns.
	}
	k.Panic("unhandled CPU exception %d in ring 0 (eip=%#x)", vec, f.EIP)
}

// timerTick is the HAL timer interrupt handler, the sole producer of
// scheduler ticks.
func (k *Kernel) timerTick() {
	k.Tick()
}

// keyboardInterrupt drains the controller's output buffer and forwards the
// scancode to the keyboard driver task as a driver message.
func (k *Kernel) keyboardInterrupt() {
	scancode := k.m.In8(hal.PortKeyboardData)
	hdr := mikros.MessageHeader{
		MsgType: mikros.MsgDriver,
	}
	if err := k.sendMessage(0, mikros.PIDKeyboard, &hdr, []byte{scancode}); err != nil {
		log.Debugf("trap: dropping scancode %#x: %v", scancode, err)
	}
}
