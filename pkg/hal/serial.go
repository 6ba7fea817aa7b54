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

package hal

import (
	"io"
)

// SerialPort is a write-only COM port that forwards bytes to a host
// writer. The kernel's boot console and panic path print through it.
type SerialPort struct {
	// W receives every byte written to the port. A nil W drops output.
	W io.Writer
}

// NewSerialPort attaches a serial port at base (typically PortSerialCOM1).
func NewSerialPort(m *Machine, base uint16, w io.Writer) *SerialPort {
	sp := &SerialPort{W: w}
	m.RegisterPorts(sp, base)
	return sp
}

// In8 implements PortDevice.In8. The device answers only at its base port,
// and every read there returns zero.
func (sp *SerialPort) In8(port uint16) byte {
	return 0
}

// Out8 implements PortDevice.Out8.
func (sp *SerialPort) Out8(port uint16, v byte) {
	if sp.W != nil {
		sp.W.Write([]byte{v})
	}
}
