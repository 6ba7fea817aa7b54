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
	"encoding/binary"

	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/errors/mkerr"
	"mikros.dev/mikros/pkg/log"
)

// ExitTask terminates a task: it leaves the scheduler, its parent gets a
// signal-type exit notification, its children are re-parented to PID 0, and
// its address space, stacks, capabilities and mailbox are released before
// the slot is reused.
//
// When t is the running task this never returns; the CPU moves to the next
// ready task or the idle context and the caller's execution context
// unwinds.
func (k *Kernel) ExitTask(t *Task, code uint32) {
	if t == nil || t.state == TaskTerminated {
		return
	}
	pid := t.pid
	wasCurrent := k.current == t.slot

	log.Infof("process: task %d exiting with code %d", pid, code)

	if t.state == TaskReady {
		k.dequeueReady(t)
	}
	t.state = TaskTerminated
	t.exitCode = code
	t.gen++

	// Exit notification to the parent, if it is still alive. The payload
	// is the terminating PID, little-endian.
	if parent := k.FindTask(t.parentPID); parent != nil {
		var payload [4]byte
		binary.LittleEndian.PutUint32(payload[:], pid)
		hdr := mikros.MessageHeader{MsgType: mikros.MsgSignal}
		if err := k.sendMessage(0, parent.pid, &hdr, payload[:]); err != nil {
			log.Debugf("process: exit notification to %d dropped: %v", parent.pid, err)
		}
	}

	// Children of the dead task belong to PID 0 now.
	for i := range k.tasks {
		if k.used[i] && k.tasks[i].parentPID == pid && k.tasks[i].state != TaskTerminated {
			k.tasks[i].parentPID = 0
		}
	}

	k.revokeAllCapabilities(pid)
	k.unregisterDrivers(pid)
	k.clearMailbox(t)

	if t.pageDir != 0 {
		k.mem.DestroyPageDirectory(t.pageDir)
		t.pageDir = 0
	}
	if t.kernelStack != 0 {
		k.mem.FreePages(t.kernelStack, kernelStackPages)
		t.kernelStack = 0
	}
	if t.userStack != 0 {
		k.mem.FreePages(t.userStack, userStackPages)
		t.userStack = 0
	}

	k.used[t.slot] = false
	close(t.wake)

	if wasCurrent {
		k.exitSwitch()
	}
}

// exitSwitch hands the CPU onward from a just-terminated current task and
// unwinds its execution context. Never returns.
func (k *Kernel) exitSwitch() {
	k.current = noTask
	if k.readyHead != noTask {
		next := &k.tasks[k.readyHead]
		k.dequeueReady(next)
		next.state = TaskRunning
		k.current = next.slot
		k.loadContext(next)
	} else {
		k.m.SetCR3(k.mem.KernelPageDirectory())
		k.m.SetTSSESP0(mikros.BootStackTop)
		select {
		case k.idleWake <- struct{}{}:
		default:
		}
	}
	panic(errTaskDead)
}

// KillTask terminates the task with the given PID.
func (k *Kernel) KillTask(pid uint32) error {
	t := k.FindTask(pid)
	if t == nil {
		return mkerr.ErrNotFound
	}
	k.ExitTask(t, 0)
	return nil
}
