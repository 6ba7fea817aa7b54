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
	"mikros.dev/mikros/pkg/mm"
)

// Env is the execution environment of a task body. It models instruction
// stream effects: memory accesses go through the task's page tables with
// ring 3 privilege, syscalls raise the software interrupt, and pending
// hardware interrupts are delivered at the boundaries between operations,
// where they would fall between instructions.
//
// Any Env call may suspend the task (preemption, blocking) or terminate it
// (faults, exit); termination unwinds the calling goroutine and the call
// does not return.
type Env struct {
	k   *Kernel
	t   *Task
	gen uint32
}

// Task returns the task this environment belongs to.
func (e *Env) Task() *Task {
	return e.t
}

// PID returns the calling task's PID.
func (e *Env) PID() uint32 {
	return e.t.pid
}

// interruptPoint is an instruction boundary: the step clock advances and
// deliverable IRQs run, possibly preempting the task.
func (e *Env) interruptPoint() {
	e.k.m.StepCycles()
	e.k.handlePendingInterrupts()
}

// Spin burns one step of CPU time, as a busy loop iteration would.
func (e *Env) Spin() {
	e.interruptPoint()
}

// Syscall raises software interrupt 0x80 with EAX/EBX/ECX/EDX loaded and
// returns the signed status from EAX.
func (e *Env) Syscall(num, ebx, ecx, edx uint32) int32 {
	k := e.k
	e.interruptPoint()

	r := &k.m.Regs
	r.EAX, r.EBX, r.ECX, r.EDX = num, ebx, ecx, edx
	tc := k.trapEnter(mikros.SyscallVector, 0)
	k.syscallDispatch(tc)
	k.trapReturn(tc)
	res := int32(k.m.Regs.EAX)

	e.interruptPoint()
	return res
}

// fault raises a page fault for a failed user access. Does not return.
func (e *Env) fault(f *mm.Fault) {
	e.k.m.SetCR2(f.Addr)
	e.k.exception(vecPageFault, f.ErrorCode())
	panic("unreachable")
}

// Load32 reads a 32-bit word from the task's address space with ring 3
// privilege. A failed walk takes the page fault path and terminates the
// task.
func (e *Env) Load32(va uint32) uint32 {
	pa, f := e.k.mem.Translate(e.t.pageDir, va, mm.AccessType{User: e.t.isUser})
	if f != nil {
		e.fault(f)
	}
	return e.k.m.Read32(pa)
}

// Store32 writes a 32-bit word into the task's address space.
func (e *Env) Store32(va, v uint32) {
	pa, f := e.k.mem.Translate(e.t.pageDir, va, mm.AccessType{Write: true, User: e.t.isUser})
	if f != nil {
		e.fault(f)
	}
	e.k.m.Write32(pa, v)
}

// ReadBytes copies n bytes out of the task's address space.
func (e *Env) ReadBytes(va, n uint32) []byte {
	if !e.t.isUser {
		return e.k.m.ReadBytes(va, n)
	}
	data, f := e.k.mem.CopyFromUser(e.t.pageDir, va, n)
	if f != nil {
		e.fault(f)
	}
	return data
}

// WriteBytes copies data into the task's address space.
func (e *Env) WriteBytes(va uint32, data []byte) {
	if !e.t.isUser {
		e.k.m.WriteBytes(va, data)
		return
	}
	if f := e.k.mem.CopyToUser(e.t.pageDir, va, data); f != nil {
		e.fault(f)
	}
}

// Halt executes hlt. In ring 3 this is a privileged instruction and takes
// a general protection fault, terminating the task.
func (e *Env) Halt() {
	if e.t.isUser {
		e.k.exception(vecGeneralProtection, 0)
		panic("unreachable")
	}
	e.k.m.Halt()
	e.k.handlePendingInterrupts()
}

// scratch returns the task's message staging buffer: the bottom of the
// user stack region, well below any live stack frames. The message and
// print helpers are for user tasks; kernel tasks talk to the kernel
// directly.
func (e *Env) scratch() uint32 {
	return e.t.userStack
}

// Exit terminates the calling task. Does not return.
func (e *Env) Exit(code uint32) {
	e.Syscall(mikros.SysProcessExit, code, 0, 0)
	panic("unreachable")
}

// Yield reschedules cooperatively.
func (e *Env) Yield() {
	e.Syscall(mikros.SysProcessYield, 0, 0, 0)
}

// Send marshals a message into the task's scratch buffer and issues
// ipc_send.
func (e *Env) Send(to, msgType, flags uint32, data []byte) int32 {
	buf := make([]byte, mikros.MessageHeaderSize+len(data))
	hdr := mikros.MessageHeader{
		ReceiverPID: to,
		MsgType:     msgType,
		Flags:       flags,
		DataSize:    uint32(len(data)),
	}
	hdr.MarshalBytes(buf)
	copy(buf[mikros.MessageHeaderSize:], data)
	e.WriteBytes(e.scratch(), buf)
	return e.Syscall(mikros.SysIPCSend, to, e.scratch(), 0)
}

// Receive issues ipc_receive and unmarshals the result. The error status
// is returned as-is; blocking receives suspend the task until a matching
// send.
func (e *Env) Receive(from uint32, block bool) (*mikros.MessageHeader, []byte, int32) {
	var blockArg uint32
	if block {
		blockArg = 1
	}
	res := e.Syscall(mikros.SysIPCReceive, from, e.scratch(), blockArg)
	if res != 0 {
		return nil, nil, res
	}
	var hdr mikros.MessageHeader
	hdr.UnmarshalBytes(e.ReadBytes(e.scratch(), mikros.MessageHeaderSize))
	var data []byte
	if hdr.DataSize > 0 && hdr.DataSize <= mikros.MaxMessageData {
		data = e.ReadBytes(e.scratch()+mikros.MessageHeaderSize, hdr.DataSize)
	}
	return &hdr, data, 0
}

// DebugPrint copies a string into the scratch buffer and issues
// debug_print.
func (e *Env) DebugPrint(s string) int32 {
	buf := append([]byte(s), 0)
	e.WriteBytes(e.scratch(), buf)
	return e.Syscall(mikros.SysDebugPrint, e.scratch(), 0, 0)
}
