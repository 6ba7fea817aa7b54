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
	"testing"

	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/hal"
)

func TestIDTGates(t *testing.T) {
	k := newTestKernel(t, 1)

	// Exceptions and IRQs: present, ring 0 interrupt gates on the kernel
	// code selector.
	for _, vec := range []int{0, 13, 14, vectorIRQBase, vectorIRQBase + 1} {
		g := k.idt[vec]
		if g.TypeAttr != 0x8E {
			t.Errorf("vector %d type attr %#x, want 0x8E", vec, g.TypeAttr)
		}
		if g.Selector != mikros.SelKernelCode {
			t.Errorf("vector %d selector %#x", vec, g.Selector)
		}
		base := uint32(g.BaseLow) | uint32(g.BaseHigh)<<16
		if _, ok := k.Machine().SymbolAt(base); !ok {
			t.Errorf("vector %d stub %#x is not kernel text", vec, base)
		}
	}

	// The syscall gate is user-callable.
	g := k.idt[mikros.SyscallVector]
	if g.TypeAttr != 0xEE {
		t.Errorf("syscall gate type attr %#x, want 0xEE (present, DPL 3)", g.TypeAttr)
	}
	if g.dpl() != 3 {
		t.Errorf("syscall gate DPL %d", g.dpl())
	}
}

func TestKeyboardIRQPath(t *testing.T) {
	k := newTestKernel(t, 1)
	kc := hal.NewKeyboardController(k.Machine())

	// PID 1 parks forever so the keyboard task lands on PID 2, where the
	// interrupt handler addresses its messages.
	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		e.Receive(77, true) // No sender 77 ever exists.
	})); err != nil {
		t.Fatalf("spawn filler: %v", err)
	}

	var (
		gotType   uint32
		gotSender uint32
		gotData   []byte
	)
	kb, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		hdr, data, res := e.Receive(0, true)
		if res != 0 {
			e.Exit(1)
		}
		gotType = hdr.MsgType
		gotSender = hdr.SenderPID
		gotData = data
	}))
	if err != nil {
		t.Fatalf("spawn keyboard: %v", err)
	}
	if kb.PID() != mikros.PIDKeyboard {
		t.Fatalf("keyboard task got PID %d, want %d", kb.PID(), mikros.PIDKeyboard)
	}

	kc.Push(0x1E)
	k.Run(20)

	if kb.State() != TaskTerminated {
		t.Fatal("keyboard task never received the scancode")
	}
	if gotType != mikros.MsgDriver {
		t.Errorf("message type %#x, want driver", gotType)
	}
	if gotSender != 0 {
		t.Errorf("sender %d, want kernel (0)", gotSender)
	}
	if len(gotData) != 1 || gotData[0] != 0x1E {
		t.Errorf("payload %v, want [0x1E]", gotData)
	}
}

func TestEOISentAfterIRQ(t *testing.T) {
	k := newTestKernel(t, oneTickPerStep)
	m := k.Machine()

	done := false
	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		e.Spin() // At least one tick fires and completes.
		done = true
	})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Run(0)

	if !done {
		t.Fatal("task did not complete")
	}
	// No timer interrupt left in service.
	if !m.PICIsSpurious(hal.IRQTimer) {
		t.Error("timer IRQ still in service; EOI missing")
	}
}
