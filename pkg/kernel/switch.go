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
)

// The context switch is a two-phase primitive over the simulated kernel
// stacks. Phase 1 pushes the callee-saved registers and EFLAGS of the
// outgoing task onto its own kernel stack, topped by a return address, and
// records the stack pointer in the PCB. Phase 2 loads the incoming task's
// page directory, points TSS.esp0 at its kernel stack top, restores its
// stack pointer, pops the saved registers and "returns".
//
// The return address popped in phase 2 decides where control lands: the
// shared first-run trampoline for a task that has never run (it unwinds the
// faked trap frame and irets into the entry point), a bound kernel entry
// thunk for a fresh kernel task, or resumeAddr for a task that was switched
// out mid-kernel, which resumes the suspended execution context exactly
// where it parked.
//
// Control transfer itself rides on one goroutine per task plus one for the
// boot/idle context, with a strict handoff: the incoming context is woken
// (or launched) and the outgoing context immediately parks on its wake
// channel. At most one context ever executes kernel or user code.

// errTaskDead is the unwinding sentinel thrown through a dead task's
// execution context. It is recovered at the top of Task.run.
var errTaskDead = new(struct{ _ int })

// switchTo transfers the CPU from the current context to next.
func (k *Kernel) switchTo(next *Task) {
	prev := k.Current()
	if prev == next {
		next.state = TaskRunning
		return
	}
	next.state = TaskRunning
	k.current = next.slot

	// Phase 1: save the outgoing task on its own kernel stack. Skipped
	// for the idle context and for a terminated task, whose stack is
	// already gone.
	prevLive := prev != nil && prev.state != TaskTerminated
	var prevGen uint32
	if prevLive {
		prevGen = prev.gen
		sp := prev.kernelSP
		sp -= 4
		k.m.Write32(sp, k.resumeAddr)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.EFLAGS)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.EBP)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.EBX)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.ESI)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.EDI)
		prev.savedSP = sp
		prev.kernelSP = sp
	}

	k.loadContext(next)
	k.parkOutgoing(prev, prevGen, prevLive)
}

// loadContext is phase 2: load the incoming task's page directory, point
// TSS.esp0 at its kernel stack top, pop the saved registers from its
// kernel stack, and "return" to whatever address the block holds.
func (k *Kernel) loadContext(next *Task) {
	k.m.SetCR3(next.pageDir)
	k.m.SetTSSESP0(next.kernelStack + mikros.KernelStackSize)
	sp := next.savedSP
	k.m.Regs.EDI = k.m.Read32(sp)
	sp += 4
	k.m.Regs.ESI = k.m.Read32(sp)
	sp += 4
	k.m.Regs.EBX = k.m.Read32(sp)
	sp += 4
	k.m.Regs.EBP = k.m.Read32(sp)
	sp += 4
	k.m.Regs.EFLAGS = k.m.Read32(sp)
	sp += 4
	ret := k.m.Read32(sp)
	sp += 4
	next.kernelSP = sp

	if ret == k.resumeAddr {
		next.wake <- struct{}{}
	} else if fn, ok := k.m.SymbolAt(ret); ok {
		fn()
	} else {
		k.Panic("context switch returned to unmapped address %#x", ret)
	}
}

// switchToIdle hands the CPU back to the boot/idle context. Used when the
// ready queue is empty and the current task cannot continue.
func (k *Kernel) switchToIdle() {
	prev := k.Current()
	if prev == nil {
		return
	}
	k.current = noTask

	prevLive := prev.state != TaskTerminated
	var prevGen uint32
	if prevLive {
		prevGen = prev.gen
		sp := prev.kernelSP
		sp -= 4
		k.m.Write32(sp, k.resumeAddr)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.EFLAGS)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.EBP)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.EBX)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.ESI)
		sp -= 4
		k.m.Write32(sp, k.m.Regs.EDI)
		prev.savedSP = sp
		prev.kernelSP = sp
	}

	// Idle runs on the kernel's own page directory and the boot stack.
	k.m.SetCR3(k.mem.KernelPageDirectory())
	k.m.SetTSSESP0(mikros.BootStackTop)

	select {
	case k.idleWake <- struct{}{}:
	default:
	}
	k.parkOutgoing(prev, prevGen, prevLive)
}

// parkOutgoing suspends the context that just gave the CPU away. A dead
// task's context unwinds instead of parking; the idle context parks on its
// own channel. Liveness and generation are sampled before the incoming
// context was woken, so the checks here race with nothing: the receive on
// the wake channel orders any later state change.
func (k *Kernel) parkOutgoing(prev *Task, prevGen uint32, prevLive bool) {
	if prev == nil {
		<-k.idleWake
		return
	}
	if !prevLive {
		panic(errTaskDead)
	}
	<-prev.wake
	if prev.gen != prevGen || prev.state == TaskTerminated {
		panic(errTaskDead)
	}
}

// run is the body of a task's execution context. It is launched the first
// time the scheduler switches the task in, and unwinds either through an
// explicit exit or through the errTaskDead sentinel.
func (t *Task) run(k *Kernel) {
	defer func() {
		if r := recover(); r != nil && r != errTaskDead {
			panic(r)
		}
	}()
	env := &Env{k: k, t: t, gen: t.gen}
	t.program.Run(env)
	// Falling off the end of the program is an implicit exit(0).
	env.Exit(0)
}
