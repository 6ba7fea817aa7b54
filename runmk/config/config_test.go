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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"mikros.dev/mikros/pkg/abi/mikros"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Machine.MemorySize != mikros.DefaultMemorySize {
		t.Errorf("memory size %d", c.Machine.MemorySize)
	}
	if c.Machine.TimerHz != mikros.DefaultTimerHz || c.Machine.TimeQuantum != mikros.TimeQuantum {
		t.Errorf("timer defaults %d Hz, quantum %d", c.Machine.TimerHz, c.Machine.TimeQuantum)
	}
	if len(c.Services) != 5 || c.Services[0].Name != "init" || c.Services[4].Name != "shell" {
		t.Errorf("default services %+v", c.Services)
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.toml")
	manifest := `
[machine]
memory_size = 8388608
timer_hz = 50
boot_delay_ticks = 3

[[service]]
name = "init"

[[service]]
name = "keyboard"
`
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Machine.MemorySize != 8<<20 {
		t.Errorf("memory size %d, want %d", c.Machine.MemorySize, 8<<20)
	}
	if c.Machine.TimerHz != 50 {
		t.Errorf("timer %d Hz, want 50", c.Machine.TimerHz)
	}
	if c.Machine.BootDelayTicks != 3 {
		t.Errorf("boot delay %d, want 3", c.Machine.BootDelayTicks)
	}
	// Unset fields fall back to defaults.
	if c.Machine.TimeQuantum != mikros.TimeQuantum {
		t.Errorf("quantum %d, want default", c.Machine.TimeQuantum)
	}
	if len(c.Services) != 2 {
		t.Errorf("services %+v", c.Services)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("loading a missing manifest succeeded")
	}
	// An empty path means defaults.
	c, err := Load("")
	if err != nil || c == nil {
		t.Errorf("Load(\"\") = %v", err)
	}
}

func TestTooManyServices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.toml")
	manifest := `
[[service]]
name = "a"
[[service]]
name = "b"
[[service]]
name = "c"
[[service]]
name = "d"
[[service]]
name = "e"
[[service]]
name = "f"
`
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("six services accepted; the boot protocol has five slots")
	}
}
