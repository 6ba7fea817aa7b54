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

import (
	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/kernel"
)

// The built-in service bodies. The kernel treats services as opaque message
// recipients at fixed PIDs; these are the reference implementations runmk
// boots when the manifest does not stage real binaries.

// serviceProgram picks the body for a manifest service name.
func serviceProgram(name string) kernel.Program {
	switch name {
	case "keyboard":
		return kernel.ProgramFunc(keyboardDriver)
	case "console":
		return kernel.ProgramFunc(consoleDriver)
	case "timer":
		return kernel.ProgramFunc(timerDriver)
	case "shell":
		return kernel.ProgramFunc(shell)
	default:
		return kernel.ProgramFunc(initTask)
	}
}

// initTask parks on its mailbox; it exists to adopt orphans and to be the
// target of control messages.
func initTask(e *kernel.Env) {
	e.DebugPrint("init: up\r\n")
	for {
		_, _, res := e.Receive(0, true)
		if res != 0 {
			e.Exit(uint32(-res))
		}
	}
}

// keyboardDriver turns scancode interrupts into key events for the shell.
func keyboardDriver(e *kernel.Env) {
	for {
		hdr, data, res := e.Receive(0, true)
		if res != 0 {
			e.Exit(uint32(-res))
		}
		if hdr.MsgType != mikros.MsgDriver || len(data) != 1 {
			continue
		}
		ch, ok := ScancodeToASCII(data[0])
		if !ok {
			continue
		}
		e.Send(mikros.PIDShell, mikros.MsgData, 0, []byte{ch})
	}
}

// consoleDriver prints write requests onto the boot console.
func consoleDriver(e *kernel.Env) {
	for {
		hdr, data, res := e.Receive(0, true)
		if res != 0 {
			e.Exit(uint32(-res))
		}
		if hdr.MsgType != mikros.MsgDriver || len(data) < 2 || data[0] != mikros.DriverMsgWrite {
			continue
		}
		e.DebugPrint(string(data[1:]))
	}
}

// timerDriver waits for tick subscriptions; nothing arrives in the default
// boot, so it stays parked without burning CPU.
func timerDriver(e *kernel.Env) {
	for {
		_, _, res := e.Receive(0, true)
		if res != 0 {
			e.Exit(uint32(-res))
		}
	}
}

// shell echoes key events line by line through the console driver.
func shell(e *kernel.Env) {
	prompt := func() {
		e.Send(mikros.PIDConsole, mikros.MsgDriver, 0, append([]byte{mikros.DriverMsgWrite}, []byte("\r\n$ ")...))
	}
	prompt()
	for {
		hdr, data, res := e.Receive(mikros.PIDKeyboard, true)
		if res != 0 {
			e.Exit(uint32(-res))
		}
		if hdr.MsgType != mikros.MsgData || len(data) != 1 {
			continue
		}
		e.Send(mikros.PIDConsole, mikros.MsgDriver, 0, []byte{mikros.DriverMsgWrite, data[0]})
		if data[0] == '\n' {
			prompt()
		}
	}
}
