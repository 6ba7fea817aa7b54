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

package bitmap

import (
	"testing"
)

func TestAddRemoveContains(t *testing.T) {
	b := New(256)
	if !b.IsEmpty() {
		t.Fatal("fresh bitmap is not empty")
	}
	b.Add(0)
	b.Add(63)
	b.Add(64)
	b.Add(255)
	for _, bit := range []uint32{0, 63, 64, 255} {
		if !b.Contains(bit) {
			t.Errorf("bit %d not set", bit)
		}
	}
	if b.GetNumOnes() != 4 {
		t.Errorf("GetNumOnes is %d, want 4", b.GetNumOnes())
	}
	// Double add does not double count.
	b.Add(64)
	if b.GetNumOnes() != 4 {
		t.Errorf("GetNumOnes after re-add is %d, want 4", b.GetNumOnes())
	}
	b.Remove(63)
	if b.Contains(63) {
		t.Error("bit 63 still set after Remove")
	}
	if b.GetNumOnes() != 3 {
		t.Errorf("GetNumOnes after remove is %d, want 3", b.GetNumOnes())
	}
}

func TestFirstZero(t *testing.T) {
	b := New(130)
	b.AddRange(0, 64)
	bit, err := b.FirstZero(0)
	if err != nil || bit != 64 {
		t.Errorf("FirstZero(0) = %d, %v; want 64, nil", bit, err)
	}
	bit, err = b.FirstZero(100)
	if err != nil || bit != 100 {
		t.Errorf("FirstZero(100) = %d, %v; want 100, nil", bit, err)
	}
	b.AddRange(64, 130)
	if _, err := b.FirstZero(0); err == nil {
		t.Error("FirstZero on a full bitmap did not fail")
	}
}

func TestFirstZeroRun(t *testing.T) {
	b := New(64)
	b.Add(2)
	b.Add(10)

	pos, ok := b.FirstZeroRun(0, 2)
	if !ok || pos != 0 {
		t.Errorf("FirstZeroRun(0, 2) = %d, %t; want 0, true", pos, ok)
	}
	pos, ok = b.FirstZeroRun(0, 5)
	if !ok || pos != 3 {
		t.Errorf("FirstZeroRun(0, 5) = %d, %t; want 3, true", pos, ok)
	}
	pos, ok = b.FirstZeroRun(0, 53)
	if !ok || pos != 11 {
		t.Errorf("FirstZeroRun(0, 53) = %d, %t; want 11, true", pos, ok)
	}
	if _, ok := b.FirstZeroRun(0, 54); ok {
		t.Error("FirstZeroRun found a run longer than any gap")
	}
	if _, ok := b.FirstZeroRun(0, 0); ok {
		t.Error("FirstZeroRun with zero count succeeded")
	}
}

func TestCloneEquals(t *testing.T) {
	b := New(128)
	b.AddRange(10, 20)
	c := b.Clone()
	if !b.Equals(&c) {
		t.Error("clone does not equal original")
	}
	c.Add(99)
	if b.Equals(&c) {
		t.Error("modified clone still equals original")
	}
	c.Remove(99)
	if !b.Equals(&c) {
		t.Error("restored clone does not equal original")
	}
}
