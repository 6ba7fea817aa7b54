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

package boot

// Scancode set 1 make codes for the keys the console path supports.
var set1ToASCII = map[byte]byte{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0A: '9', 0x0B: '0',
	0x0C: '-', 0x0D: '=',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1E: 'a', 0x1F: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l',
	0x2C: 'z', 0x2D: 'x', 0x2E: 'c', 0x2F: 'v', 0x30: 'b',
	0x31: 'n', 0x32: 'm', 0x33: ',', 0x34: '.', 0x35: '/',
	0x1C: '\n', 0x39: ' ', 0x0E: 0x08,
}

var asciiToSet1 = func() map[byte]byte {
	m := make(map[byte]byte, len(set1ToASCII))
	for sc, ch := range set1ToASCII {
		m[ch] = sc
	}
	return m
}()

// ScancodeToASCII translates a set 1 make code. Break codes and unmapped
// keys report false.
func ScancodeToASCII(scancode byte) (byte, bool) {
	if scancode&0x80 != 0 {
		return 0, false
	}
	ch, ok := set1ToASCII[scancode]
	return ch, ok
}

// ASCIIToScancode translates a host character to the make code the
// interactive console injects. Carriage returns fold onto the enter key.
func ASCIIToScancode(ch byte) (byte, bool) {
	if ch == '\r' {
		ch = '\n'
	}
	sc, ok := asciiToSet1[ch]
	return sc, ok
}
