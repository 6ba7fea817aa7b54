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
	"fmt"

	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/errors/mkerr"
	"mikros.dev/mikros/pkg/log"
	"mikros.dev/mikros/pkg/mm"
)

// Stack sizes in pages.
const (
	kernelStackPages = mikros.KernelStackSize / mikros.PageSize
	userStackPages   = mikros.UserStackSize / mikros.PageSize
)

// NewTask reserves a PCB slot, allocates a PID, builds an address space
// with the kernel identity mapping, and allocates the kernel and (for user
// tasks) user stacks. The task is returned in Created state; SetupTask must
// install its entry point before it is scheduled.
func (k *Kernel) NewTask(parentPID uint32, isUser bool) (*Task, error) {
	slot := -1
	for i := range k.used {
		if !k.used[i] {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, mkerr.ErrOutOfMemory
	}

	pid := k.allocatePID()
	if pid == 0 {
		return nil, mkerr.ErrOutOfMemory
	}

	t := &k.tasks[slot]
	gen := t.gen + 1
	*t = Task{
		slot:      slot,
		gen:       gen,
		pid:       pid,
		parentPID: parentPID,
		state:     TaskCreated,
		priority:  5,
		isUser:    isUser,
		next:      noTask,
		prev:      noTask,
		wake:      make(chan struct{}, 1),
	}

	pd, ok := k.mem.NewPageDirectory()
	if !ok {
		return nil, mkerr.ErrOutOfMemory
	}
	t.pageDir = pd
	if !k.mem.MapKernel(pd) {
		k.mem.DestroyPageDirectory(pd)
		return nil, mkerr.ErrOutOfMemory
	}

	kstack, ok := k.mem.AllocPages(kernelStackPages)
	if !ok {
		k.mem.DestroyPageDirectory(pd)
		return nil, mkerr.ErrOutOfMemory
	}
	t.kernelStack = kstack

	if isUser {
		ustack, ok := k.mem.AllocPages(userStackPages)
		if !ok {
			k.mem.FreePages(kstack, kernelStackPages)
			k.mem.DestroyPageDirectory(pd)
			return nil, mkerr.ErrOutOfMemory
		}
		t.userStack = ustack
		// The user stack is identity mapped with user privilege; the
		// kernel stack is already reachable supervisor-only through
		// the kernel identity map.
		for i := uint32(0); i < userStackPages; i++ {
			addr := ustack + i*mikros.PageSize
			if !k.mem.MapPage(pd, addr, addr, mm.FlagsUser) {
				k.mem.FreePages(ustack, userStackPages)
				k.mem.FreePages(kstack, kernelStackPages)
				k.mem.DestroyPageDirectory(pd)
				return nil, mkerr.ErrOutOfMemory
			}
		}
	}

	k.used[slot] = true
	k.grantDefaultCapabilities(pid)

	log.Debugf("process: created task %d (parent %d, user %t)", pid, parentPID, isUser)
	return t, nil
}

// SetupTask binds the task's program and entry point and builds the initial
// kernel stack frame. For a user task the frame emulates the state a trap
// handler would leave just before iret to ring 3, topped by the address of
// the shared first-run trampoline; the first context switch to the task
// therefore "returns" into the trampoline, which irets into the entry
// point. A kernel task needs only the five scheduler-saved registers and a
// return address equal to its entry thunk.
func (k *Kernel) SetupTask(t *Task, entry uint32, program Program) {
	if t == nil || t.state != TaskCreated {
		panic("SetupTask on a task that is not in Created state")
	}
	t.program = program

	sp := t.kernelStack + mikros.KernelStackSize
	push := func(v uint32) {
		sp -= 4
		k.m.Write32(sp, v)
	}

	if t.isUser {
		t.entry = entry

		// The iret tail: user SS, user ESP, EFLAGS with IF, user CS,
		// entry EIP.
		push(mikros.SelUserData)
		push(t.userStack + mikros.UserStackSize)
		push(flagsDefault)
		push(mikros.SelUserCode)
		push(entry)

		// Synthesized (err_code, int_no) pair.
		push(0)
		push(0)

		// pusha block, all zero.
		for i := 0; i < 8; i++ {
			push(0)
		}

		// Data segment selectors: ds, es, fs, gs.
		for i := 0; i < 4; i++ {
			push(mikros.SelUserData)
		}

		// The first context switch returns here.
		push(k.trampoline)
	} else {
		// A kernel task starts by "returning" straight into its entry
		// thunk; no iret frame is needed.
		thunk := k.m.BindSymbol(fmt.Sprintf("ktask_%d_entry", t.pid), k.kernelTaskEntry(t.slot, t.gen))
		t.entry = thunk
		push(thunk)
	}

	// The block the context switch pops: EFLAGS, EBP, EBX, ESI, EDI.
	push(flagsDefault)
	push(0)
	push(0)
	push(0)
	push(0)

	t.savedSP = sp
	t.kernelSP = sp
}

// flagsDefault is the EFLAGS value seeded into fresh frames: reserved bit
// plus IF.
const flagsDefault = 0x202

// kernelTaskEntry returns the thunk a fresh kernel task's first switch
// lands on: it sets up the ring 0 register state and launches the task
// body.
func (k *Kernel) kernelTaskEntry(slot int, gen uint32) func() {
	return func() {
		t := k.task(slot)
		if t == nil || t.gen != gen {
			k.Panic("kernel task entry for recycled slot %d", slot)
		}
		r := &k.m.Regs
		r.EIP = t.entry
		r.CS = mikros.SelKernelCode
		r.SS = mikros.SelKernelData
		r.DS = mikros.SelKernelData
		r.ES = mikros.SelKernelData
		r.FS = mikros.SelKernelData
		r.GS = mikros.SelKernelData
		r.ESP = t.kernelSP
		r.EFLAGS = flagsDefault
		k.m.EnableInterrupts()
		if !t.started {
			t.started = true
			go t.run(k)
		}
	}
}

// SpawnKernelTask creates, sets up, and schedules a ring 0 task running
// body.
func (k *Kernel) SpawnKernelTask(body Program) (*Task, error) {
	t, err := k.NewTask(0, false)
	if err != nil {
		return nil, err
	}
	k.SetupTask(t, 0, body)
	k.AddTask(t)
	return t, nil
}

// SpawnUserTask creates, sets up, and schedules a ring 3 task with the
// given entry address and program body.
func (k *Kernel) SpawnUserTask(parentPID uint32, entry uint32, body Program) (*Task, error) {
	t, err := k.NewTask(parentPID, true)
	if err != nil {
		return nil, err
	}
	k.SetupTask(t, entry, body)
	k.AddTask(t)
	return t, nil
}
