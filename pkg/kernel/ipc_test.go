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
	"mikros.dev/mikros/pkg/errors/mkerr"
)

func TestSenderFIFO(t *testing.T) {
	k := newTestKernel(t, 1)

	r, err := k.NewTask(0, true)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}

	// Two interleaved senders. Per-sender order must hold; cross-sender
	// order is unspecified.
	hdr := mikros.MessageHeader{MsgType: mikros.MsgData}
	k.sendMessage(10, r.PID(), &hdr, []byte{1})
	k.sendMessage(20, r.PID(), &hdr, []byte{100})
	k.sendMessage(10, r.PID(), &hdr, []byte{2})
	k.sendMessage(20, r.PID(), &hdr, []byte{101})
	k.sendMessage(10, r.PID(), &hdr, []byte{3})

	var from10, from20 []byte
	for {
		m := r.mailbox.detachFirst(10)
		if m == nil {
			break
		}
		from10 = append(from10, m.Data[0])
	}
	for {
		m := r.mailbox.detachFirst(20)
		if m == nil {
			break
		}
		from20 = append(from20, m.Data[0])
	}
	if string(from10) != string([]byte{1, 2, 3}) {
		t.Errorf("sender 10 order %v", from10)
	}
	if string(from20) != string([]byte{100, 101}) {
		t.Errorf("sender 20 order %v", from20)
	}
}

func TestSelectiveReceive(t *testing.T) {
	k := newTestKernel(t, 1)

	r, err := k.NewTask(0, true)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	hdr := mikros.MessageHeader{MsgType: mikros.MsgData}
	k.sendMessage(10, r.PID(), &hdr, []byte{1})
	k.sendMessage(20, r.PID(), &hdr, []byte{2})

	// Selective by sender pulls out of order; the skipped message stays.
	m, err := k.receiveMessage(r, 20, false)
	if err != nil || m.Data[0] != 2 {
		t.Fatalf("receive from 20: %v, %v", m, err)
	}
	m, err = k.receiveMessage(r, 20, false)
	if err != mkerr.ErrNotFound {
		t.Fatalf("second receive from 20: %v, want not found", err)
	}
	m, err = k.receiveMessage(r, 0, false)
	if err != nil || m.Header.SenderPID != 10 {
		t.Fatalf("receive any: %+v, %v", m, err)
	}
}

func TestSendValidation(t *testing.T) {
	k := newTestKernel(t, 1)

	hdr := mikros.MessageHeader{MsgType: mikros.MsgData}
	if err := k.sendMessage(1, 99, &hdr, nil); err != mkerr.ErrNotFound {
		t.Errorf("send to missing PID: %v, want not found", err)
	}

	r, _ := k.NewTask(0, true)
	big := make([]byte, mikros.MaxMessageData+1)
	if err := k.sendMessage(1, r.PID(), &hdr, big); err != mkerr.ErrInvalidParam {
		t.Errorf("oversized send: %v, want invalid param", err)
	}
}

func TestKernelStampsSenderAndIDs(t *testing.T) {
	k := newTestKernel(t, 1)
	r, _ := k.NewTask(0, true)

	// The user-supplied header fields that are kernel-owned are ignored.
	hdr := mikros.MessageHeader{
		MsgID:     9999,
		SenderPID: 4242,
		MsgType:   mikros.MsgData,
	}
	k.sendMessage(7, r.PID(), &hdr, nil)
	k.sendMessage(7, r.PID(), &hdr, nil)

	m1 := r.mailbox.dequeue()
	m2 := r.mailbox.dequeue()
	if m1.Header.SenderPID != 7 || m2.Header.SenderPID != 7 {
		t.Error("sender PID not stamped by the kernel")
	}
	if m2.Header.MsgID != m1.Header.MsgID+1 {
		t.Errorf("msg ids %d, %d not monotonic", m1.Header.MsgID, m2.Header.MsgID)
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	k := newTestKernel(t, 1)

	a, _ := k.NewTask(0, true)
	b, _ := k.NewTask(0, true)
	c, _ := k.NewTask(0, true)

	hdr := mikros.MessageHeader{MsgType: mikros.MsgControl}
	if err := k.Broadcast(a.PID(), &hdr, []byte{1}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if n, _, _ := k.QueueStats(a.PID()); n != 0 {
		t.Errorf("sender received its own broadcast (%d queued)", n)
	}
	for _, task := range []*Task{b, c} {
		if n, _, _ := k.QueueStats(task.PID()); n != 1 {
			t.Errorf("task %d has %d queued, want 1", task.PID(), n)
		}
	}
}

func TestClearQueue(t *testing.T) {
	k := newTestKernel(t, 1)
	r, _ := k.NewTask(0, true)

	hdr := mikros.MessageHeader{MsgType: mikros.MsgData}
	k.sendMessage(1, r.PID(), &hdr, nil)
	k.sendMessage(1, r.PID(), &hdr, nil)
	if err := k.ClearQueue(r.PID()); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if n, _, _ := k.QueueStats(r.PID()); n != 0 {
		t.Errorf("%d messages after clear", n)
	}
	if err := k.ClearQueue(12345); err != mkerr.ErrNotFound {
		t.Errorf("clear of missing PID: %v", err)
	}
}

func TestMessageHandlerHook(t *testing.T) {
	k := newTestKernel(t, 1)
	r, _ := k.NewTask(0, true)

	var hooked *Message
	if err := k.RegisterMessageHandler(mikros.MsgControl, func(m *Message) { hooked = m }); err != nil {
		t.Fatalf("RegisterMessageHandler: %v", err)
	}
	hdr := mikros.MessageHeader{MsgType: mikros.MsgControl}
	k.sendMessage(3, r.PID(), &hdr, []byte{9})
	if hooked == nil || hooked.Header.SenderPID != 3 {
		t.Error("hook not invoked on control message")
	}

	if err := k.RegisterMessageHandler(maxMsgHandlers, func(*Message) {}); err != mkerr.ErrInvalidParam {
		t.Errorf("out of range hook registration: %v", err)
	}
}

func TestExitClearsMailboxAndDelivery(t *testing.T) {
	k := newTestKernel(t, 1)
	r, _ := k.NewTask(0, true)

	hdr := mikros.MessageHeader{MsgType: mikros.MsgData}
	k.sendMessage(1, r.PID(), &hdr, nil)
	k.ExitTask(r, 0)

	if err := k.sendMessage(1, r.PID(), &hdr, nil); err != mkerr.ErrNotFound {
		t.Errorf("send to dead PID: %v, want not found", err)
	}
}
