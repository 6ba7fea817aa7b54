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
	"mikros.dev/mikros/pkg/hal"
)

// VGA text mode geometry.
const (
	vgaMemory = 0xB8000
	vgaWidth  = 80
	vgaHeight = 25

	// vgaAttr is light gray on black.
	vgaAttr = 0x07
)

// BootConsole is the kernel's diagnostic output: VGA text memory in the
// physical arena plus the COM1 serial port. It exists for boot banners,
// panic dumps, and the debug_print syscall; everything else logs through
// pkg/log.
type BootConsole struct {
	m   *hal.Machine
	pos uint32
}

func newBootConsole(m *hal.Machine) *BootConsole {
	c := &BootConsole{m: m}
	c.Clear()
	return c
}

// Clear blanks the VGA text screen.
func (c *BootConsole) Clear() {
	for i := uint32(0); i < vgaWidth*vgaHeight; i++ {
		c.putCell(i, ' ')
	}
	c.pos = 0
}

func (c *BootConsole) putCell(cell uint32, ch byte) {
	addr := uint32(vgaMemory) + cell*2
	c.m.Write8(addr, ch)
	c.m.Write8(addr+1, vgaAttr)
}

func (c *BootConsole) scroll() {
	base := uint32(vgaMemory)
	for i := uint32(0); i < vgaWidth*(vgaHeight-1)*2; i++ {
		c.m.Write8(base+i, c.m.Read8(base+i+vgaWidth*2))
	}
	for i := uint32(vgaWidth * (vgaHeight - 1)); i < vgaWidth*vgaHeight; i++ {
		c.putCell(i, ' ')
	}
	c.pos -= vgaWidth
}

// Write implements io.Writer.Write. Every byte also goes out the serial
// port, so a headless run still captures the boot transcript.
func (c *BootConsole) Write(p []byte) (int, error) {
	for _, ch := range p {
		c.m.Out8(hal.PortSerialCOM1, ch)
		switch ch {
		case '\r':
			c.pos = (c.pos / vgaWidth) * vgaWidth
		case '\n':
			c.pos = (c.pos/vgaWidth + 1) * vgaWidth
		default:
			c.putCell(c.pos, ch)
			c.pos++
		}
		if c.pos >= vgaWidth*vgaHeight {
			c.scroll()
		}
	}
	return len(p), nil
}

// WriteString writes a string to the console.
func (c *BootConsole) WriteString(s string) {
	c.Write([]byte(s))
}

// Screen returns the current VGA text contents as lines, for tests and the
// machine monitor.
func (c *BootConsole) Screen() []string {
	lines := make([]string, vgaHeight)
	for row := uint32(0); row < vgaHeight; row++ {
		buf := make([]byte, vgaWidth)
		for col := uint32(0); col < vgaWidth; col++ {
			buf[col] = c.m.Read8(uint32(vgaMemory) + (row*vgaWidth+col)*2)
		}
		lines[row] = string(buf)
	}
	return lines
}
