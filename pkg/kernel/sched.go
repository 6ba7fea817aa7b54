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
	"mikros.dev/mikros/pkg/log"
)

// The scheduler: a single FIFO ready queue with round-robin rotation,
// quantum preemption from the timer tick, and voluntary blocking. Priority
// is advisory in this revision; selection always takes the queue head.

func (k *Kernel) schedulerInit() {
	k.readyHead = noTask
	k.readyTail = noTask
	k.current = noTask
	k.ticks = 0
	log.Infof("sched: ready")
}

// AddTask hands a created task to the scheduler, marking it Ready and
// queueing it at the tail. Adding an already-Ready task is a no-op.
func (k *Kernel) AddTask(t *Task) {
	if t == nil || t.state == TaskReady {
		return
	}
	k.enqueueReady(t)
	t.state = TaskReady
}

func (k *Kernel) enqueueReady(t *Task) {
	t.next = noTask
	t.prev = noTask
	if k.readyHead == noTask {
		k.readyHead = t.slot
		k.readyTail = t.slot
		return
	}
	k.tasks[k.readyTail].next = t.slot
	t.prev = k.readyTail
	k.readyTail = t.slot
}

func (k *Kernel) dequeueReady(t *Task) {
	if t.prev != noTask {
		k.tasks[t.prev].next = t.next
	} else if k.readyHead == t.slot {
		k.readyHead = t.next
	} else {
		return // Not queued.
	}
	if t.next != noTask {
		k.tasks[t.next].prev = t.prev
	} else if k.readyTail == t.slot {
		k.readyTail = t.prev
	}
	t.next = noTask
	t.prev = noTask
}

// onReadyQueue reports whether t is linked into the ready queue.
func (k *Kernel) onReadyQueue(t *Task) bool {
	for slot := k.readyHead; slot != noTask; slot = k.tasks[slot].next {
		if slot == t.slot {
			return true
		}
	}
	return false
}

// removeTask takes a task out of the scheduler entirely. If it was the
// running task the caller must follow up with a switch.
func (k *Kernel) removeTask(t *Task) {
	if t == nil {
		return
	}
	if t.state == TaskReady {
		k.dequeueReady(t)
	}
	if k.current == t.slot {
		k.current = noTask
	}
}

// Tick advances the scheduler clock by one timer tick. At every quantum
// boundary the running task is preempted. Ticks arrive in interrupt
// context; everything here must either be wait-free on scheduler state or
// suspend the preempted task with its kernel stack fully describing it.
func (k *Kernel) Tick() {
	k.ticks++
	if cur := k.Current(); cur != nil {
		cur.cpuTime++
	} else {
		// Nothing running; take the chance to start something.
		k.Yield()
		return
	}
	if k.ticks%k.conf.TimeQuantum == 0 {
		k.Yield()
	}
}

// Yield rotates the CPU cooperatively. A still-Running current task goes to
// the ready tail; the head becomes Running and is switched to. With an
// empty queue a Running task simply continues, while a blocked or absent
// current task hands the CPU to the idle context.
func (k *Kernel) Yield() {
	if k.readyHead == noTask {
		if cur := k.Current(); cur != nil && cur.state == TaskRunning {
			return
		}
		k.switchToIdle()
		return
	}

	if cur := k.Current(); cur != nil && cur.state == TaskRunning {
		cur.state = TaskReady
		k.enqueueReady(cur)
	}

	next := &k.tasks[k.readyHead]
	k.dequeueReady(next)
	k.switchTo(next)
}

// BlockCurrent marks the running task Blocked and yields. The task is on no
// queue while blocked; only Unblock brings it back.
func (k *Kernel) BlockCurrent() {
	cur := k.Current()
	if cur == nil {
		return
	}
	cur.state = TaskBlocked
	k.Yield()
}

// Unblock returns a Blocked task to Ready at the queue tail. Unblocking a
// task in any other state is a no-op.
func (k *Kernel) Unblock(t *Task) {
	if t == nil || t.state != TaskBlocked {
		return
	}
	t.state = TaskReady
	k.enqueueReady(t)
}

// SetPriority records the advisory priority.
func (k *Kernel) SetPriority(t *Task, priority uint32) {
	if t != nil {
		t.priority = priority
	}
}
