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

// Package mikros contains the application binary interface of the mikros
// microkernel: syscall numbers, the fixed-size IPC message record, capability
// kinds and permission bits, and the layout constants shared between the
// kernel and its unprivileged services.
//
// Everything in this package is wire format. The in-kernel representations
// live in pkg/kernel.
package mikros

// Memory layout constants.
const (
	// PageSize is the only supported page size.
	PageSize = 4096

	// DefaultMemorySize is the amount of physical memory tracked by the
	// frame bitmap unless the boot configuration overrides it.
	DefaultMemorySize = 16 << 20

	// KernelImageBase and KernelImageEnd bound the kernel image by load
	// convention. Frames in this range are never handed out.
	KernelImageBase = 1 << 20
	KernelImageEnd  = 2 << 20

	// ServiceImageBase is the physical staging address of the first boot
	// service binary. Service i is staged at ServiceImageBase +
	// i*ServiceImageStride and runs at VA ServiceLoadAddr in its own
	// address space.
	ServiceImageBase   = 0x400000
	ServiceImageStride = 0x8000
	ServiceLoadAddr    = 0x400000
	ServiceImageMax    = 0x8000

	// BootStackTop is the provisional ESP handed over by the boot loader.
	BootStackTop = 0x90000
)

// Process limits.
const (
	// MaxProcesses bounds the PCB table. PIDs are non-zero and unique
	// among live tasks.
	MaxProcesses = 64

	// KernelStackSize and UserStackSize are the per-task stack sizes.
	KernelStackSize = 8192
	UserStackSize   = 16384
)

// Segment selectors installed by the kernel GDT. The user selectors carry
// RPL 3.
const (
	SelKernelCode = 0x08
	SelKernelData = 0x10
	SelUserCode   = 0x1B
	SelUserData   = 0x23
	SelTSS        = 0x28
)

// Well-known service PIDs assigned in boot order.
const (
	PIDInit     = 1
	PIDKeyboard = 2
	PIDConsole  = 3
	PIDTimer    = 4
	PIDShell    = 5
)

// Scheduling constants.
const (
	// TimeQuantum is the number of timer ticks a task may run before the
	// scheduler preempts it.
	TimeQuantum = 10

	// DefaultTimerHz is the PIT programming frequency used at boot.
	DefaultTimerHz = 100
)
