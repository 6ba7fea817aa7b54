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

// KeyboardController models the 8042 output buffer: pushed scancodes
// assert IRQ1 and are drained one byte at a time through port 0x60.
type KeyboardController struct {
	m   *Machine
	buf []byte
}

// NewKeyboardController attaches a keyboard controller to the machine's
// standard ports.
func NewKeyboardController(m *Machine) *KeyboardController {
	kc := &KeyboardController{m: m}
	m.RegisterPorts(kc, PortKeyboardData, PortKeyboardStatus)
	return kc
}

// Push queues a scancode and raises the keyboard interrupt.
func (kc *KeyboardController) Push(scancode byte) {
	kc.buf = append(kc.buf, scancode)
	kc.m.RaiseIRQ(IRQKeyboard)
}

// In8 implements PortDevice.In8.
func (kc *KeyboardController) In8(port uint16) byte {
	switch port {
	case PortKeyboardData:
		if len(kc.buf) == 0 {
			return 0
		}
		b := kc.buf[0]
		kc.buf = kc.buf[1:]
		return b
	case PortKeyboardStatus:
		if len(kc.buf) > 0 {
			return 0x01 // Output buffer full.
		}
		return 0
	}
	return 0xFF
}

// Out8 implements PortDevice.Out8. Controller commands are accepted and
// dropped.
func (kc *KeyboardController) Out8(port uint16, v byte) {
}
