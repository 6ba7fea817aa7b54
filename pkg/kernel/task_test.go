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
)

func TestCreateExitRoundTrip(t *testing.T) {
	k := newTestKernel(t, 1)

	framesBefore := k.Memory().SnapshotFrames()
	tasksBefore := k.LiveTasks()

	task, err := k.NewTask(0, true)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	k.SetupTask(task, testEntry, ProgramFunc(func(e *Env) {}))
	k.ExitTask(task, 0)

	if k.LiveTasks() != tasksBefore {
		t.Errorf("live tasks %d, want %d", k.LiveTasks(), tasksBefore)
	}
	if !k.Memory().FramesEqual(&framesBefore) {
		t.Error("frame bitmap not restored after create/exit")
	}
	if len(k.Capabilities(task.PID())) != 0 {
		t.Error("capabilities survive task exit")
	}
}

func TestPIDsUniqueAndNonZero(t *testing.T) {
	k := newTestKernel(t, 1)

	seen := map[uint32]bool{}
	var tasks []*Task
	for i := 0; i < 10; i++ {
		task, err := k.NewTask(0, true)
		if err != nil {
			t.Fatalf("NewTask %d: %v", i, err)
		}
		if task.PID() == 0 {
			t.Fatal("zero PID allocated")
		}
		if seen[task.PID()] {
			t.Fatalf("PID %d allocated twice", task.PID())
		}
		seen[task.PID()] = true
		tasks = append(tasks, task)
	}

	// Recycled slots do not recycle live PIDs.
	k.ExitTask(tasks[0], 0)
	n, err := k.NewTask(0, true)
	if err != nil {
		t.Fatalf("NewTask after exit: %v", err)
	}
	for _, task := range tasks[1:] {
		if task.PID() == n.PID() {
			t.Fatalf("new PID %d collides with a live task", n.PID())
		}
	}
}

func TestTableExhaustion(t *testing.T) {
	k := newTestKernel(t, 1)

	var tasks []*Task
	for {
		task, err := k.NewTask(0, false)
		if err != nil {
			break
		}
		tasks = append(tasks, task)
	}
	// One slot short of the table: PID 0 is never allocated.
	if len(tasks) != mikros.MaxProcesses-1 {
		t.Errorf("created %d tasks before exhaustion, want %d", len(tasks), mikros.MaxProcesses-1)
	}
}

// TestInitialUserFrame verifies the faked trap frame word for word: the
// iret tail, the synthesized pair, the pusha block, the segment selectors,
// the trampoline return address, and the scheduler-saved block.
func TestInitialUserFrame(t *testing.T) {
	k := newTestKernel(t, 1)
	m := k.Machine()

	task, err := k.NewTask(0, true)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	const entry = 0x400123
	k.SetupTask(task, entry, ProgramFunc(func(e *Env) {}))

	read := func(off uint32) uint32 { return m.Read32(task.SavedSP() + off*4) }

	// Scheduler block, bottom up: EDI, ESI, EBX, EBP, EFLAGS, return.
	for i := uint32(0); i < 4; i++ {
		if read(i) != 0 {
			t.Errorf("saved register %d = %#x, want 0", i, read(i))
		}
	}
	if read(4) != flagsDefault {
		t.Errorf("saved EFLAGS %#x", read(4))
	}
	if got, _ := m.SymbolAt(read(5)); got == nil {
		t.Fatalf("return address %#x is not kernel text", read(5))
	}
	if m.SymbolName(read(5)) != "trap_return" {
		t.Errorf("first-run return lands on %q", m.SymbolName(read(5)))
	}

	// The trap frame above it, in stack memory order.
	base := uint32(6)
	for i := uint32(0); i < 4; i++ { // gs, fs, es, ds
		if read(base+i) != mikros.SelUserData {
			t.Errorf("segment slot %d = %#x, want %#x", i, read(base+i), mikros.SelUserData)
		}
	}
	for i := uint32(4); i < 12; i++ { // pusha block
		if read(base+i) != 0 {
			t.Errorf("pusha slot %d = %#x, want 0", i-4, read(base+i))
		}
	}
	if read(base+12) != 0 || read(base+13) != 0 {
		t.Error("synthesized (int_no, err_code) pair not zero")
	}
	if read(base+14) != entry {
		t.Errorf("EIP slot %#x, want %#x", read(base+14), entry)
	}
	if read(base+15) != mikros.SelUserCode {
		t.Errorf("CS slot %#x, want %#x", read(base+15), mikros.SelUserCode)
	}
	if read(base+16) != flagsDefault {
		t.Errorf("EFLAGS slot %#x, want %#x", read(base+16), flagsDefault)
	}
	if read(base+17) != task.UserStack()+mikros.UserStackSize {
		t.Errorf("user ESP slot %#x, want stack top %#x", read(base+17), task.UserStack()+mikros.UserStackSize)
	}
	if read(base+18) != mikros.SelUserData {
		t.Errorf("user SS slot %#x, want %#x", read(base+18), mikros.SelUserData)
	}

	k.ExitTask(task, 0)
}

func TestReparentingToPIDZero(t *testing.T) {
	k := newTestKernel(t, 1)

	parent, _ := k.NewTask(0, true)
	child, _ := k.NewTask(parent.PID(), true)

	k.ExitTask(parent, 0)
	if child.ParentPID() != 0 {
		t.Errorf("orphan parent PID %d, want 0", child.ParentPID())
	}
}

func TestKillAuthorization(t *testing.T) {
	k := newTestKernel(t, 1)

	var (
		killStranger int32
		killChild    int32
	)
	victim, _ := k.NewTask(0, true)
	victimPID := victim.PID()

	attacker, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		killStranger = e.Syscall(mikros.SysProcessKill, victimPID, 0, 0)
	}))
	if err != nil {
		t.Fatalf("spawn attacker: %v", err)
	}

	var childPID uint32
	parent, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		killChild = e.Syscall(mikros.SysProcessKill, childPID, 0, 0)
	}))
	if err != nil {
		t.Fatalf("spawn parent: %v", err)
	}
	child, _ := k.NewTask(parent.PID(), true)
	childPID = child.PID()

	// The created-but-unscheduled victim and child keep the machine
	// alive; bound the run.
	k.Run(20)

	if attacker.State() != TaskTerminated {
		t.Error("attacker did not finish")
	}
	if killStranger != -4 {
		t.Errorf("killing a stranger returned %d, want -4 (permission denied)", killStranger)
	}
	if killChild != 0 {
		t.Errorf("parent killing its child returned %d, want 0", killChild)
	}
	if child.State() != TaskTerminated {
		t.Error("child not terminated by parent's kill")
	}
	if victim.State() == TaskTerminated {
		t.Error("stranger kill succeeded")
	}
}
