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
)

// TaskState is the lifecycle state of a task.
type TaskState uint32

// Task states.
const (
	// TaskCreated means resources are allocated but the task has not been
	// handed to the scheduler.
	TaskCreated TaskState = iota

	// TaskReady means the task is on the ready queue.
	TaskReady

	// TaskRunning means the task is the one the CPU is executing.
	TaskRunning

	// TaskBlocked means the task waits for a message and is on no queue.
	TaskBlocked

	// TaskTerminated means the task is dead and its slot is reusable.
	TaskTerminated
)

// String implements fmt.Stringer.String.
func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("invalid(%d)", uint32(s))
	}
}

// noTask is the nil value of intrusive task links and of Kernel.current.
const noTask = -1

// Task is the process control block. Tasks live in a fixed arena indexed by
// slot, and the ready queue links are slot indices rather than pointers, so
// nothing here forms a pointer cycle.
type Task struct {
	// slot is the arena index. Immutable.
	slot int

	// gen distinguishes successive occupants of the same slot so a stale
	// wakeup cannot resurrect a recycled PCB.
	gen uint32

	// pid is the unique non-zero identifier.
	pid uint32

	// parentPID is the creator, or zero for kernel-originated tasks. The
	// reference is weak: the parent may be gone by the time it matters.
	parentPID uint32

	state    TaskState
	priority uint32

	// cpuTime counts timer ticks charged while running.
	cpuTime uint32

	// isUser is whether the task runs in ring 3.
	isUser bool

	// pageDir is the physical address of the task's page directory.
	pageDir uint32

	// kernelStack and userStack are the base addresses of the stacks.
	kernelStack uint32
	userStack   uint32

	// savedSP is the kernel stack pointer captured by the last context
	// switch out.
	savedSP uint32

	// kernelSP is the live kernel stack pointer while the task executes
	// inside the kernel (trap frames and switch blocks below it).
	kernelSP uint32

	exitCode uint32

	// waitingFor is the sender PID a blocked receive is waiting on; zero
	// means any sender. Meaningful only in TaskBlocked.
	waitingFor uint32

	// next and prev are the intrusive ready queue links, noTask when the
	// task is not queued.
	next int
	prev int

	// entry is the task's entry point: a user virtual address for ring 3
	// tasks, a bound kernel text address for kernel tasks.
	entry uint32

	// program is the code body executed for this task.
	program Program

	// mailbox is the task's message queue.
	mailbox mailbox

	// wake resumes the task's suspended execution context. Closed at
	// termination so stale waiters drain.
	wake chan struct{}

	// started is whether the execution context has ever been launched.
	started bool
}

// PID returns the task's PID.
func (t *Task) PID() uint32 {
	return t.pid
}

// ParentPID returns the creator's PID.
func (t *Task) ParentPID() uint32 {
	return t.parentPID
}

// State returns the task's lifecycle state.
func (t *Task) State() TaskState {
	return t.state
}

// Priority returns the advisory priority.
func (t *Task) Priority() uint32 {
	return t.priority
}

// CPUTime returns the ticks charged to this task.
func (t *Task) CPUTime() uint32 {
	return t.cpuTime
}

// IsUser is whether the task runs in ring 3.
func (t *Task) IsUser() bool {
	return t.isUser
}

// PageDirectory returns the physical address of the task's page directory.
func (t *Task) PageDirectory() uint32 {
	return t.pageDir
}

// KernelStack returns the base of the task's kernel stack.
func (t *Task) KernelStack() uint32 {
	return t.kernelStack
}

// UserStack returns the base of the task's user stack, zero for kernel
// tasks.
func (t *Task) UserStack() uint32 {
	return t.userStack
}

// SavedSP returns the kernel stack pointer recorded at the last switch out.
func (t *Task) SavedSP() uint32 {
	return t.savedSP
}

// ExitCode returns the recorded exit code.
func (t *Task) ExitCode() uint32 {
	return t.exitCode
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s)", t.pid, t.state)
}

// Program is the body of a task. User programs run against an Env that
// models ring 3 execution: every access to memory or the kernel goes
// through it, and any of those calls may suspend or terminate the task.
type Program interface {
	Run(env *Env)
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(env *Env)

// Run implements Program.Run.
func (f ProgramFunc) Run(env *Env) {
	f(env)
}
