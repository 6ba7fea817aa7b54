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

	"mikros.dev/mikros/pkg/log"
)

// PanicError carries an unrecoverable kernel failure out of the machine.
// The runmk front end recovers it at top level to print the dump and exit;
// tests assert on it.
type PanicError struct {
	Msg string
}

// Error implements error.Error.
func (p *PanicError) Error() string {
	return "kernel panic: " + p.Msg
}

// Panic handles an unrecoverable state: interrupts off, diagnostics to the
// boot console and the log, and the machine halts. Does not return.
func (k *Kernel) Panic(format string, args ...any) {
	k.m.DisableInterrupts()
	msg := fmt.Sprintf(format, args...)

	r := &k.m.Regs
	log.Warningf("KERNEL PANIC: %s", msg)
	log.Warningf("panic: eip=%#x cs=%#x eflags=%#x esp=%#x cr2=%#x cr3=%#x tick=%d",
		r.EIP, r.CS, r.EFLAGS, r.ESP, k.m.CR2(), k.m.CR3(), k.ticks)

	k.console.WriteString("\r\nKERNEL PANIC: " + msg + "\r\n")

	panic(&PanicError{Msg: msg})
}
