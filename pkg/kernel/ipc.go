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
	"mikros.dev/mikros/pkg/errors/mkerr"
	"mikros.dev/mikros/pkg/log"
)

// maxMsgHandlers bounds the ipc_register hook table.
const maxMsgHandlers = 32

// Message is a kernel-owned message: the wire header plus the payload
// copied out of the sender's address space at send time.
type Message struct {
	// next links the mailbox queue. Messages are owned by exactly one
	// mailbox between send and receive.
	next *Message

	// Header is the wire header. SenderPID, MsgID and Timestamp are
	// kernel-assigned.
	Header mikros.MessageHeader

	// Data is the payload, at most MaxMessageData bytes.
	Data []byte
}

// mailbox is a per-PID ordered queue of messages with a hard cap. Only the
// owning task receives from it; any task may send into it.
type mailbox struct {
	head  *Message
	tail  *Message
	count uint32
}

// enqueue appends m, dropping the oldest message when the queue is at
// capacity.
func (mb *mailbox) enqueue(m *Message) {
	if mb.count >= mikros.MaxQueuedMessages {
		mb.dequeue()
	}
	m.next = nil
	if mb.head == nil {
		mb.head = m
		mb.tail = m
	} else {
		mb.tail.next = m
		mb.tail = m
	}
	mb.count++
}

// dequeue removes and returns the queue head.
func (mb *mailbox) dequeue() *Message {
	m := mb.head
	if m == nil {
		return nil
	}
	mb.head = m.next
	if mb.head == nil {
		mb.tail = nil
	}
	mb.count--
	m.next = nil
	return m
}

// detachFirst removes and returns the first message matching senderPID;
// zero matches any sender.
func (mb *mailbox) detachFirst(senderPID uint32) *Message {
	var prev *Message
	for m := mb.head; m != nil; m = m.next {
		if senderPID == 0 || m.Header.SenderPID == senderPID {
			if prev != nil {
				prev.next = m.next
			} else {
				mb.head = m.next
			}
			if m == mb.tail {
				mb.tail = prev
			}
			mb.count--
			m.next = nil
			return m
		}
		prev = m
	}
	return nil
}

func (mb *mailbox) clear() {
	mb.head = nil
	mb.tail = nil
	mb.count = 0
}

func (k *Kernel) ipcInit() {
	for i := range k.msgHandlers {
		k.msgHandlers[i] = nil
		k.userMsgHandlers[i] = 0
	}
	k.nextMsgID = 1
	log.Infof("ipc: ready")
}

// sendMessage deposits a message in the target PID's mailbox and unblocks
// the target if it waits on this sender (or on any sender). senderPID zero
// is the kernel itself.
//
// The caller-supplied sender field is never trusted: the kernel stamps the
// observed sender, a monotonically increasing message id, and the current
// tick as timestamp.
func (k *Kernel) sendMessage(senderPID, receiverPID uint32, hdr *mikros.MessageHeader, data []byte) error {
	receiver := k.FindTask(receiverPID)
	if receiver == nil {
		return mkerr.ErrNotFound
	}
	if uint32(len(data)) > mikros.MaxMessageData {
		return mkerr.ErrInvalidParam
	}

	m := &Message{
		Header: mikros.MessageHeader{
			MsgID:       k.nextMsgID,
			SenderPID:   senderPID,
			ReceiverPID: receiverPID,
			MsgType:     hdr.MsgType,
			Flags:       hdr.Flags,
			Timestamp:   k.ticks,
			DataSize:    uint32(len(data)),
		},
		Data: append([]byte(nil), data...),
	}
	k.nextMsgID++

	receiver.mailbox.enqueue(m)

	if m.Header.MsgType < maxMsgHandlers {
		if h := k.msgHandlers[m.Header.MsgType]; h != nil {
			h(m)
		}
	}

	if receiver.state == TaskBlocked && (receiver.waitingFor == 0 || receiver.waitingFor == senderPID) {
		receiver.waitingFor = 0
		k.Unblock(receiver)
	}
	return nil
}

// receiveMessage scans the caller's mailbox head to tail for the first
// message from senderPID (zero means any). Without a match it either
// returns NotFound or, with block set, marks the caller Blocked and yields;
// the scan repeats when a matching send wakes the task.
func (k *Kernel) receiveMessage(t *Task, senderPID uint32, block bool) (*Message, error) {
	for {
		if m := t.mailbox.detachFirst(senderPID); m != nil {
			return m, nil
		}
		if !block {
			return nil, mkerr.ErrNotFound
		}
		t.waitingFor = senderPID
		k.BlockCurrent()
		// A terminated receiver never gets here: the blocked context
		// unwinds through the switch instead.
	}
}

// Broadcast sends a copy of the message to every live task except the
// sender and the kernel's own bookkeeping identity. It reports OK if at
// least one delivery succeeded.
func (k *Kernel) Broadcast(senderPID uint32, hdr *mikros.MessageHeader, data []byte) error {
	sent := 0
	for i := range k.tasks {
		if !k.used[i] {
			continue
		}
		pid := k.tasks[i].pid
		if pid == senderPID {
			continue
		}
		if err := k.sendMessage(senderPID, pid, hdr, data); err == nil {
			sent++
		}
	}
	if sent == 0 {
		return mkerr.ErrGeneric
	}
	return nil
}

// clearMailbox frees every queued message of a task.
func (k *Kernel) clearMailbox(t *Task) {
	t.mailbox.clear()
}

// ClearQueue empties the mailbox of the given PID.
func (k *Kernel) ClearQueue(pid uint32) error {
	t := k.FindTask(pid)
	if t == nil {
		return mkerr.ErrNotFound
	}
	t.mailbox.clear()
	return nil
}

// QueueStats returns the queued message count and capacity for a PID.
func (k *Kernel) QueueStats(pid uint32) (count, capacity uint32, err error) {
	t := k.FindTask(pid)
	if t == nil {
		return 0, 0, mkerr.ErrNotFound
	}
	return t.mailbox.count, mikros.MaxQueuedMessages, nil
}

// RegisterMessageHandler installs a kernel-side hook invoked after every
// enqueue of the given message type.
func (k *Kernel) RegisterMessageHandler(msgType uint32, h func(*Message)) error {
	if msgType >= maxMsgHandlers || h == nil {
		return mkerr.ErrInvalidParam
	}
	k.msgHandlers[msgType] = h
	return nil
}

// SendKernelMessage sends from the kernel (sender PID 0).
func (k *Kernel) SendKernelMessage(receiverPID uint32, hdr *mikros.MessageHeader, data []byte) error {
	return k.sendMessage(0, receiverPID, hdr, data)
}
