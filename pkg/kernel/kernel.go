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

// Package kernel implements the mikros core: the process table and
// lifecycle, the round-robin scheduler with voluntary blocking, the trap and
// interrupt layer, synchronous message passing, the capability table, and
// syscall dispatch.
//
// All kernel state is owned by a single Kernel created at boot. The
// single-CPU discipline applies throughout: exactly one execution context
// (a task or the idle context) runs at a time, and control moves between
// them only through the context switch primitive.
package kernel

import (
	"fmt"
	"time"

	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/hal"
	"mikros.dev/mikros/pkg/log"
	"mikros.dev/mikros/pkg/mm"
)

// Config are the kernel boot parameters.
type Config struct {
	// TimerHz is the PIT programming frequency.
	TimerHz uint32

	// TimeQuantum is the number of ticks a task runs before preemption.
	TimeQuantum uint32
}

// DefaultConfig returns the boot defaults.
func DefaultConfig() Config {
	return Config{
		TimerHz:     mikros.DefaultTimerHz,
		TimeQuantum: mikros.TimeQuantum,
	}
}

// Kernel is the whole of the kernel's global state: PCB arena, ready queue,
// mailboxes, capability table, IDT, and tick counter. It is not safe for
// concurrent use from outside; the handoff discipline in switch.go is the
// only permitted concurrency.
type Kernel struct {
	m    *hal.Machine
	mem  *mm.Memory
	conf Config

	// tasks is the PCB arena; used marks live slots. Slot and PCB are a
	// bijection for live tasks.
	tasks [mikros.MaxProcesses]Task
	used  [mikros.MaxProcesses]bool

	// nextPID is the rolling PID allocator cursor.
	nextPID uint32

	// current is the slot of the running task, or noTask in the idle or
	// boot context.
	current int

	// readyHead and readyTail delimit the FIFO ready queue.
	readyHead int
	readyTail int

	// ticks is the monotonically increasing scheduler tick counter. The
	// HAL timer handler is its sole producer.
	ticks uint32

	// nextMsgID numbers messages monotonically across the kernel.
	nextMsgID uint32

	// msgHandlers are the kernel-side hooks installed by ipc_register.
	msgHandlers [maxMsgHandlers]func(*Message)

	// userMsgHandlers records the handler addresses user tasks register.
	// They are bookkeeping only; the kernel never jumps to user text.
	userMsgHandlers [maxMsgHandlers]uint32

	// caps is the flat capability table.
	caps      [mikros.MaxProcesses * mikros.MaxCapsPerTask]*Capability
	capCount  uint32
	nextCapID uint32

	// drivers maps registered service names to PIDs.
	drivers map[string]uint32

	// syscalls is the dispatch table, indexed by syscall number.
	syscalls [mikros.MaxSyscall]syscallFn

	// idt is the interrupt descriptor table; irqHandlers the registered
	// handlers for IRQ lines.
	idt         [idtEntries]gateDescriptor
	irqHandlers [16]func()

	// trampoline is the bound address of the shared first-run/trap-return
	// stub; resumeAddr the bound address a preempted switch block returns
	// to.
	trampoline uint32
	resumeAddr uint32

	// idleSP is the boot stack pointer used for trap frames taken in the
	// idle context.
	idleSP uint32

	// idleWake resumes the idle context when every task has yielded the
	// CPU.
	idleWake chan struct{}

	// stopAtTick, when nonzero, suspends the machine back into the boot
	// context once ticks passes it.
	stopAtTick uint32

	shutdown bool

	console *BootConsole

	// faultLog throttles per-fault diagnostics so a task stuck in an
	// exception loop cannot flood the transcript.
	faultLog log.Logger

	initialized bool
}

// New creates a kernel for the given machine. Init must run before anything
// else.
func New(m *hal.Machine, conf Config) *Kernel {
	if conf.TimerHz == 0 {
		conf.TimerHz = mikros.DefaultTimerHz
	}
	if conf.TimeQuantum == 0 {
		conf.TimeQuantum = mikros.TimeQuantum
	}
	k := &Kernel{
		m:         m,
		mem:       mm.New(m),
		conf:      conf,
		nextPID:   1,
		nextMsgID: 1,
		nextCapID: 1,
		current:   noTask,
		readyHead: noTask,
		readyTail: noTask,
		drivers:   make(map[string]uint32),
		idleWake:  make(chan struct{}, 1),
		idleSP:    mikros.BootStackTop,
	}
	k.console = newBootConsole(m)
	k.faultLog = log.RateLimitedLogger(log.Log(), 100*time.Millisecond, 16)
	return k
}

// Machine returns the underlying machine.
func (k *Kernel) Machine() *hal.Machine {
	return k.m
}

// Memory returns the memory manager.
func (k *Kernel) Memory() *mm.Memory {
	return k.mem
}

// Console returns the boot console.
func (k *Kernel) Console() *BootConsole {
	return k.console
}

// Ticks returns the scheduler tick counter.
func (k *Kernel) Ticks() uint32 {
	return k.ticks
}

// Uptime returns the tick counter; it exists for the version/uptime service
// queries.
func (k *Kernel) Uptime() uint32 {
	return k.ticks
}

// Version returns the kernel version string.
func (k *Kernel) Version() string {
	return "mikros v1.0"
}

// Init brings the kernel up in boot order: CPU and segmentation, interrupt
// controller, memory and paging, process and IPC state, syscalls, the IDT,
// and finally the timer.
func (k *Kernel) Init() error {
	if k.initialized {
		panic("kernel initialized twice")
	}

	features := k.m.CPUID()
	log.Infof("cpu: features %#x", features)

	k.gdtInit()
	k.picInit()

	if err := k.mem.Init(); err != nil {
		return err
	}

	k.schedulerInit()
	k.processInit()
	k.ipcInit()
	k.capabilityInit()
	k.syscallInit()
	k.interruptInit()

	k.m.TimerSetFrequency(k.conf.TimerHz)
	k.m.PICUnmaskIRQ(hal.IRQTimer)
	k.m.PICUnmaskIRQ(hal.IRQKeyboard)
	k.m.EnableInterrupts()

	k.initialized = true
	log.Infof("kernel: initialization complete (%d Hz, quantum %d)", k.conf.TimerHz, k.conf.TimeQuantum)
	return nil
}

// gdtInit builds the GDT the spec mandates: null, kernel code/data, user
// code/data, TSS, and loads the task register.
func (k *Kernel) gdtInit() {
	var gdt [hal.GDTEntries]hal.SegmentDescriptor
	gdt[hal.SegNull].SetNull()
	gdt[hal.SegKernelCode].Set(0, 0xFFFFFFFF, hal.AccessKernelCode, hal.GranFlat)
	gdt[hal.SegKernelData].Set(0, 0xFFFFFFFF, hal.AccessKernelData, hal.GranFlat)
	gdt[hal.SegUserCode].Set(0, 0xFFFFFFFF, hal.AccessUserCode, hal.GranFlat)
	gdt[hal.SegUserData].Set(0, 0xFFFFFFFF, hal.AccessUserData, hal.GranFlat)
	gdt[hal.SegTSS].Set(0, 0x67, hal.AccessTSS, 0x00)
	k.m.LoadGDT(gdt)

	k.m.SetTSS(hal.TaskState{
		SS0:       mikros.SelKernelData,
		ESP0:      0,
		IOMapBase: 0x68,
	})
	k.m.LoadTaskRegister(mikros.SelTSS)
}

// picInit remaps the controller pair away from the CPU exception range and
// masks every line until drivers ask for them.
func (k *Kernel) picInit() {
	k.m.PICRemap(vectorIRQBase, vectorIRQBase+8)
	k.m.PICSetIRQMask(0xFFFF)
}

func (k *Kernel) processInit() {
	for i := range k.tasks {
		k.used[i] = false
		k.tasks[i] = Task{slot: i, next: noTask, prev: noTask}
	}
	log.Infof("process: table ready (%d slots)", mikros.MaxProcesses)
}

// task returns the live task in slot, or nil.
func (k *Kernel) task(slot int) *Task {
	if slot == noTask || !k.used[slot] {
		return nil
	}
	return &k.tasks[slot]
}

// Current returns the running task, or nil in the idle context.
func (k *Kernel) Current() *Task {
	return k.task(k.current)
}

// FindTask looks a live task up by PID.
func (k *Kernel) FindTask(pid uint32) *Task {
	if pid == 0 {
		return nil
	}
	for i := range k.tasks {
		if k.used[i] && k.tasks[i].pid == pid {
			return &k.tasks[i]
		}
	}
	return nil
}

// LiveTasks returns the number of live tasks.
func (k *Kernel) LiveTasks() int {
	n := 0
	for i := range k.used {
		if k.used[i] {
			n++
		}
	}
	return n
}

// allocatePID returns a free PID, skipping zero and colliding values, or
// zero when the space is exhausted.
func (k *Kernel) allocatePID() uint32 {
	for i := uint32(0); i < mikros.MaxProcesses; i++ {
		pid := (k.nextPID + i) % mikros.MaxProcesses
		if pid == 0 {
			continue
		}
		if k.FindTask(pid) == nil {
			k.nextPID = pid + 1
			return pid
		}
	}
	return 0
}

// Shutdown halts the machine. Outstanding tasks are abandoned; the boot
// context regains control and Run returns.
func (k *Kernel) Shutdown() {
	log.Infof("kernel: shutdown requested")
	k.shutdown = true
	k.m.DisableInterrupts()
}

// Run drives the machine from the boot context: schedule ready tasks, and
// when everything is blocked, hlt until the timer moves the world forward.
// Run returns when the kernel shuts down, no tasks remain, or limitTicks
// ticks have elapsed (zero means no limit).
func (k *Kernel) Run(limitTicks uint32) {
	if !k.initialized {
		panic("Run before Init")
	}
	if limitTicks != 0 {
		k.stopAtTick = k.ticks + limitTicks
	} else {
		k.stopAtTick = 0
	}
	defer func() { k.stopAtTick = 0 }()

	for !k.shutdown {
		if k.stopAtTick != 0 && k.ticks >= k.stopAtTick {
			return
		}
		if k.readyHead != noTask {
			// Hand the CPU to the queue head; we are resumed when
			// every task has blocked, exited, or the tick budget
			// suspended the world.
			k.Yield()
			continue
		}
		if k.LiveTasks() == 0 {
			return
		}
		// All tasks blocked: sleep until the next timer interrupt and
		// service whatever it unblocks.
		k.m.Halt()
		k.handlePendingInterrupts()
	}
}

// DelayTicks busy-waits the boot context for n timer ticks, servicing
// whatever the interrupts unblock. Usable only from the boot context; tasks
// sleep by blocking on a message instead.
func (k *Kernel) DelayTicks(n uint32) {
	if k.current != noTask {
		panic("DelayTicks outside the boot context")
	}
	target := k.ticks + n
	for k.ticks < target {
		k.m.Halt()
		k.handlePendingInterrupts()
	}
}

func (k *Kernel) String() string {
	return fmt.Sprintf("kernel: %d tasks, tick %d", k.LiveTasks(), k.ticks)
}
