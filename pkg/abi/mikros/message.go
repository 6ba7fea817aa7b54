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

import (
	"encoding/binary"
	"fmt"
)

// IPC limits.
const (
	// MessageHeaderSize is the fixed header length of the on-wire message
	// record. The payload follows immediately at this offset.
	MessageHeaderSize = 32

	// MaxMessageData is the maximum payload length.
	MaxMessageData = 256

	// MessageSize is the full fixed-size record exchanged across the user
	// boundary.
	MessageSize = MessageHeaderSize + MaxMessageData

	// MaxQueuedMessages is the per-PID mailbox capacity. Enqueueing past
	// the limit drops the oldest message.
	MaxQueuedMessages = 100
)

// Message types.
const (
	MsgData     = 0x01
	MsgControl  = 0x02
	MsgSignal   = 0x03
	MsgResponse = 0x04
	MsgDriver   = 0x05
)

// Driver message sub-codes, carried in the first payload byte of MsgDriver
// requests.
const (
	DriverMsgRead  = 0x01
	DriverMsgWrite = 0x02
	DriverMsgIoctl = 0x03
)

// MessageHeader is the 32-byte header of the IPC wire record, little-endian.
//
// MsgID and Timestamp are kernel-assigned and ignored on send. SenderPID is
// stamped by the kernel with the observed sender and never trusted from user
// input.
type MessageHeader struct {
	MsgID       uint32
	SenderPID   uint32
	ReceiverPID uint32
	MsgType     uint32
	Flags       uint32
	Timestamp   uint32
	DataSize    uint32
	Reserved    uint32
}

// MarshalBytes serializes the header into dst, which must hold at least
// MessageHeaderSize bytes.
func (h *MessageHeader) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], h.MsgID)
	binary.LittleEndian.PutUint32(dst[4:], h.SenderPID)
	binary.LittleEndian.PutUint32(dst[8:], h.ReceiverPID)
	binary.LittleEndian.PutUint32(dst[12:], h.MsgType)
	binary.LittleEndian.PutUint32(dst[16:], h.Flags)
	binary.LittleEndian.PutUint32(dst[20:], h.Timestamp)
	binary.LittleEndian.PutUint32(dst[24:], h.DataSize)
	binary.LittleEndian.PutUint32(dst[28:], h.Reserved)
}

// UnmarshalBytes deserializes the header from src, which must hold at least
// MessageHeaderSize bytes.
func (h *MessageHeader) UnmarshalBytes(src []byte) {
	h.MsgID = binary.LittleEndian.Uint32(src[0:])
	h.SenderPID = binary.LittleEndian.Uint32(src[4:])
	h.ReceiverPID = binary.LittleEndian.Uint32(src[8:])
	h.MsgType = binary.LittleEndian.Uint32(src[12:])
	h.Flags = binary.LittleEndian.Uint32(src[16:])
	h.Timestamp = binary.LittleEndian.Uint32(src[20:])
	h.DataSize = binary.LittleEndian.Uint32(src[24:])
	h.Reserved = binary.LittleEndian.Uint32(src[28:])
}

// SizeBytes returns the serialized header size.
func (h *MessageHeader) SizeBytes() int {
	return MessageHeaderSize
}

// String implements fmt.Stringer.String.
func (h *MessageHeader) String() string {
	return fmt.Sprintf("msg %d: %d->%d type=%#x flags=%#x size=%d", h.MsgID, h.SenderPID, h.ReceiverPID, h.MsgType, h.Flags, h.DataSize)
}
