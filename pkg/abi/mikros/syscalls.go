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

package mikros

// SyscallVector is the software interrupt used for all system calls. The
// gate is installed with DPL 3 so ring 3 may raise it. EAX carries the
// syscall number, EBX/ECX/EDX the first three arguments, and the result is
// written back into the frame's EAX slot.
const SyscallVector = 0x80

// MaxSyscall bounds the syscall table.
const MaxSyscall = 256

// Syscall numbers.
const (
	SysProcessCreate  = 0x01
	SysProcessExit    = 0x02
	SysProcessYield   = 0x03
	SysProcessKill    = 0x04
	SysMemoryAlloc    = 0x10
	SysMemoryFree     = 0x11
	SysMemoryMap      = 0x12
	SysIPCSend        = 0x20
	SysIPCReceive     = 0x21
	SysIPCRegister    = 0x22
	SysDriverRegister = 0x30
	SysDriverRequest  = 0x31
	SysSystemShutdown = 0x40
	SysDebugPrint     = 0x41
)

// SyscallName returns a human readable name for a syscall number, for
// diagnostics only.
func SyscallName(num uint32) string {
	switch num {
	case SysProcessCreate:
		return "process_create"
	case SysProcessExit:
		return "process_exit"
	case SysProcessYield:
		return "process_yield"
	case SysProcessKill:
		return "process_kill"
	case SysMemoryAlloc:
		return "memory_alloc"
	case SysMemoryFree:
		return "memory_free"
	case SysMemoryMap:
		return "memory_map"
	case SysIPCSend:
		return "ipc_send"
	case SysIPCReceive:
		return "ipc_receive"
	case SysIPCRegister:
		return "ipc_register"
	case SysDriverRegister:
		return "driver_register"
	case SysDriverRequest:
		return "driver_request"
	case SysSystemShutdown:
		return "system_shutdown"
	case SysDebugPrint:
		return "debug_print"
	default:
		return "unknown"
	}
}
