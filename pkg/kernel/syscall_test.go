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
	"strings"
	"testing"

	"mikros.dev/mikros/pkg/abi/mikros"
)

func TestUnknownSyscall(t *testing.T) {
	k := newTestKernel(t, 1)

	var res1, res2 int32
	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		res1 = e.Syscall(0x77, 0, 0, 0)  // In range, no handler.
		res2 = e.Syscall(0xFFF, 0, 0, 0) // Out of range.
	})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Run(0)

	if res1 != -8 || res2 != -8 {
		t.Errorf("unknown syscalls returned %d, %d; want -8 (not implemented)", res1, res2)
	}
}

func TestSyscallCapabilityGate(t *testing.T) {
	k := newTestKernel(t, 1)

	var denied, granted int32
	task, err := k.NewTask(0, true)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	peer, _ := k.NewTask(0, true)
	peerPID := peer.PID()

	// Strip the default IPC capability; sends must then fail closed.
	k.RevokeCapability(0, task.PID(), mikros.CapIPC, 0)

	k.SetupTask(task, testEntry, ProgramFunc(func(e *Env) {
		denied = e.Send(peerPID, mikros.MsgData, 0, []byte{1})
		// Yield stays exempt from the gate.
		granted = e.Syscall(mikros.SysProcessYield, 0, 0, 0)
	}))
	k.AddTask(task)
	k.Run(20)

	if denied != -4 {
		t.Errorf("send without CapIPC returned %d, want -4", denied)
	}
	if granted != 0 {
		t.Errorf("yield returned %d, want 0", granted)
	}
}

func TestMemoryAllocSyscall(t *testing.T) {
	k := newTestKernel(t, 1)

	var base int32
	var wrote bool
	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		base = e.Syscall(mikros.SysMemoryAlloc, 2*mikros.PageSize, 0, 0)
		if base <= 0 {
			e.Exit(1)
		}
		// The mapping is user RW in the caller's address space.
		e.Store32(uint32(base), 0x12345678)
		e.Store32(uint32(base)+mikros.PageSize, 0x9ABCDEF0)
		wrote = e.Load32(uint32(base)) == 0x12345678
		if e.Syscall(mikros.SysMemoryFree, uint32(base), 0, 0) != 0 {
			e.Exit(2)
		}
	})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Run(0)

	if base <= 0 {
		t.Fatalf("alloc returned %d", base)
	}
	if !wrote {
		t.Error("allocated memory not readable/writable from ring 3")
	}
}

func TestMemoryAllocValidation(t *testing.T) {
	k := newTestKernel(t, 1)

	var zeroSize, badFree int32
	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		zeroSize = e.Syscall(mikros.SysMemoryAlloc, 0, 0, 0)
		badFree = e.Syscall(mikros.SysMemoryFree, 0x123, 0, 0) // Unaligned.
	})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Run(0)

	if zeroSize != -2 {
		t.Errorf("alloc(0) returned %d, want -2", zeroSize)
	}
	if badFree != -2 {
		t.Errorf("free(unaligned) returned %d, want -2", badFree)
	}
}

func TestBadPointerSyscalls(t *testing.T) {
	k := newTestKernel(t, 1)

	var sendRes, recvRes, printRes int32
	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		pid := e.PID()
		sendRes = e.Syscall(mikros.SysIPCSend, pid, 0xFFF000, 0)    // Supervisor-only buffer.
		recvRes = e.Syscall(mikros.SysIPCReceive, 0, 0, 0)          // Null buffer.
		printRes = e.Syscall(mikros.SysDebugPrint, 0xFFF000, 0, 0)  // Supervisor-only string.
	})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Run(0)

	for name, res := range map[string]int32{"send": sendRes, "receive": recvRes, "print": printRes} {
		if res != -2 {
			t.Errorf("%s with bad pointer returned %d, want -2", name, res)
		}
	}
}

func TestDebugPrint(t *testing.T) {
	k := newTestKernel(t, 1)

	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		if e.DebugPrint("hello from ring 3") != 0 {
			e.Exit(1)
		}
	})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Run(0)

	screen := strings.Join(k.Console().Screen(), "\n")
	if !strings.Contains(screen, "hello from ring 3") {
		t.Error("debug output not on the VGA screen")
	}
}

func TestDriverRegisterAndRequest(t *testing.T) {
	k := newTestKernel(t, 1)

	var regRes, dupRes, reqRes, badReq int32
	var got []byte

	drv, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		nameVA := e.Task().UserStack() + 1024
		e.WriteBytes(nameVA, append([]byte("blk"), 0))
		regRes = e.Syscall(mikros.SysDriverRegister, nameVA, mikros.PermRead|mikros.PermWrite, 0)
		_, data, res := e.Receive(0, true)
		if res != 0 {
			e.Exit(1)
		}
		got = data
	}))
	if err != nil {
		t.Fatalf("spawn driver: %v", err)
	}
	drvPID := drv.PID()

	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		nameVA := e.Task().UserStack() + 1024
		e.WriteBytes(nameVA, append([]byte("blk"), 0))
		dupRes = e.Syscall(mikros.SysDriverRegister, nameVA, 0, 0)

		// Requests reach registered drivers only.
		badReq = e.Syscall(mikros.SysDriverRequest, e.PID(), e.Task().UserStack(), 0)

		buf := make([]byte, mikros.MessageHeaderSize+2)
		hdr := mikros.MessageHeader{MsgType: mikros.MsgDriver, DataSize: 2}
		hdr.MarshalBytes(buf)
		buf[mikros.MessageHeaderSize] = mikros.DriverMsgRead
		buf[mikros.MessageHeaderSize+1] = 9
		e.WriteBytes(e.Task().UserStack()+2048, buf)
		reqRes = e.Syscall(mikros.SysDriverRequest, drvPID, e.Task().UserStack()+2048, 0)
	})); err != nil {
		t.Fatalf("spawn client: %v", err)
	}

	k.Run(0)

	if regRes != 0 {
		t.Errorf("driver_register returned %d", regRes)
	}
	if dupRes != -7 {
		t.Errorf("duplicate driver_register returned %d, want -7", dupRes)
	}
	if badReq != -5 {
		t.Errorf("driver_request to non-driver returned %d, want -5", badReq)
	}
	if reqRes != 0 {
		t.Errorf("driver_request returned %d", reqRes)
	}
	if len(got) != 2 || got[0] != mikros.DriverMsgRead || got[1] != 9 {
		t.Errorf("driver received %v", got)
	}
	if pid, ok := k.DriverPID("blk"); !ok || pid != drvPID {
		t.Errorf("DriverPID = %d, %t", pid, ok)
	}
}

func TestShutdownSyscall(t *testing.T) {
	k := newTestKernel(t, 1)

	// Without the system capability the gate fails closed.
	var denied int32
	if _, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		denied = e.Syscall(mikros.SysSystemShutdown, 0, 0, 0)
	})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Run(0)
	if denied != -4 {
		t.Errorf("shutdown without CapSystem returned %d, want -4", denied)
	}
	if k.shutdown {
		t.Fatal("kernel shut down without authority")
	}

	privileged, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		e.Syscall(mikros.SysSystemShutdown, 0, 0, 0)
		e.Exit(42) // Unreachable: shutdown halts the machine.
	}))
	if err != nil {
		t.Fatalf("spawn privileged: %v", err)
	}
	if err := k.GrantCapability(0, privileged.PID(), mikros.CapSystem, 0, 0); err != nil {
		t.Fatalf("grant: %v", err)
	}
	k.Run(0)

	if !k.shutdown {
		t.Error("kernel did not shut down")
	}
}

func TestProcessCreateSyscall(t *testing.T) {
	k := newTestKernel(t, 1)

	var childRes int32
	ran := make(map[uint32]bool)
	parent, err := k.SpawnUserTask(0, testEntry, ProgramFunc(func(e *Env) {
		ran[e.PID()] = true
		if len(ran) > 1 {
			return // Child body: exit immediately.
		}
		childRes = e.Syscall(mikros.SysProcessCreate, 0, 0, 0)
	}))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Run(0)

	if childRes <= 0 {
		t.Fatalf("process_create returned %d", childRes)
	}
	if childRes == int32(parent.PID()) {
		t.Error("child PID equals parent PID")
	}
	if !ran[uint32(childRes)] {
		t.Error("child never ran the shared image")
	}
}
