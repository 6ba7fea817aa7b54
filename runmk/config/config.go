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

// Package config holds the runmk boot manifest.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"mikros.dev/mikros/pkg/abi/mikros"
)

// Machine is the hardware shape of the boot.
type Machine struct {
	// MemorySize is the physical RAM size in bytes.
	MemorySize uint32 `toml:"memory_size"`

	// TimerHz is the PIT frequency.
	TimerHz uint32 `toml:"timer_hz"`

	// TimeQuantum is the preemption quantum in ticks.
	TimeQuantum uint32 `toml:"time_quantum"`

	// CyclesPerStep tunes how much simulated time one program step
	// burns.
	CyclesPerStep uint64 `toml:"cycles_per_step"`

	// BootDelayTicks holds the kernel in its idle loop for this many
	// timer ticks after init and before the services launch, so slow
	// staged devices settle first.
	BootDelayTicks uint32 `toml:"boot_delay_ticks"`
}

// Service describes one boot service slot.
type Service struct {
	// Name is the service name in boot order: init, keyboard, console,
	// timer, shell.
	Name string `toml:"name"`

	// Image is an optional path to a binary staged into the service's
	// slot.
	Image string `toml:"image"`
}

// Config is the boot manifest.
type Config struct {
	Machine  Machine   `toml:"machine"`
	Services []Service `toml:"service"`
}

// Default returns the boot defaults: 16 MiB, 100 Hz, quantum 10, and the
// five standard services with empty images.
func Default() *Config {
	return &Config{
		Machine: Machine{
			MemorySize:  mikros.DefaultMemorySize,
			TimerHz:     mikros.DefaultTimerHz,
			TimeQuantum: mikros.TimeQuantum,
		},
		Services: []Service{
			{Name: "init"},
			{Name: "keyboard"},
			{Name: "console"},
			{Name: "timer"},
			{Name: "shell"},
		},
	}
}

// Load reads a TOML manifest, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	d := Default()
	if c.Machine.MemorySize == 0 {
		c.Machine.MemorySize = d.Machine.MemorySize
	}
	if c.Machine.TimerHz == 0 {
		c.Machine.TimerHz = d.Machine.TimerHz
	}
	if c.Machine.TimeQuantum == 0 {
		c.Machine.TimeQuantum = d.Machine.TimeQuantum
	}
	if len(c.Services) == 0 {
		c.Services = d.Services
	}
	if len(c.Services) > 5 {
		return nil, fmt.Errorf("manifest names %d services; the boot protocol has 5 slots", len(c.Services))
	}
	return c, nil
}

// LoadImage reads a service binary, enforcing the slot size.
func (s *Service) LoadImage() ([]byte, error) {
	if s.Image == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.Image)
	if err != nil {
		return nil, fmt.Errorf("reading service %q image: %w", s.Name, err)
	}
	if len(data) > mikros.ServiceImageMax {
		return nil, fmt.Errorf("service %q image is %d bytes; the slot holds %d", s.Name, len(data), mikros.ServiceImageMax)
	}
	return data, nil
}
