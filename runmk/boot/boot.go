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

// Package boot assembles a machine and kernel from a boot manifest and
// provides the built-in service bodies.
package boot

import (
	"io"

	"mikros.dev/mikros/pkg/hal"
	"mikros.dev/mikros/pkg/kernel"
	"mikros.dev/mikros/runmk/config"
)

// Machine is a booted kernel with its input devices.
type Machine struct {
	Kernel   *kernel.Kernel
	Keyboard *hal.KeyboardController
}

// New builds the machine, initializes the kernel, and starts the manifest's
// services. Serial output goes to serialOut.
func New(c *config.Config, serialOut io.Writer) (*Machine, error) {
	m := hal.NewMachine(hal.Config{
		MemorySize:    c.Machine.MemorySize,
		CyclesPerStep: c.Machine.CyclesPerStep,
	})
	hal.NewSerialPort(m, hal.PortSerialCOM1, serialOut)
	kc := hal.NewKeyboardController(m)

	k := kernel.New(m, kernel.Config{
		TimerHz:     c.Machine.TimerHz,
		TimeQuantum: c.Machine.TimeQuantum,
	})
	if err := k.Init(); err != nil {
		return nil, err
	}
	if c.Machine.BootDelayTicks > 0 {
		k.DelayTicks(c.Machine.BootDelayTicks)
	}

	var services []kernel.Service
	for _, svc := range c.Services {
		image, err := svc.LoadImage()
		if err != nil {
			return nil, err
		}
		services = append(services, kernel.Service{
			Name:    svc.Name,
			Image:   image,
			Program: serviceProgram(svc.Name),
		})
	}
	if err := k.StartServices(services); err != nil {
		return nil, err
	}

	return &Machine{Kernel: k, Keyboard: kc}, nil
}
