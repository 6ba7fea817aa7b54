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

// Package mm implements physical memory management and paging: the frame
// bitmap, per-task page directories, and the software page walks that stand
// in for the MMU.
package mm

import (
	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/bitmap"
	"mikros.dev/mikros/pkg/errors/mkerr"
	"mikros.dev/mikros/pkg/hal"
	"mikros.dev/mikros/pkg/log"
)

// Memory owns the frame bitmap and the kernel page directory. There is one
// instance per machine, created at kernel_init.
type Memory struct {
	m *hal.Machine

	// frames tracks one bit per physical frame; a set bit is allocated.
	frames bitmap.Bitmap

	totalFrames uint32

	// kernelPD is the kernel's own page directory, loaded at boot and
	// whenever no task directory is active.
	kernelPD uint32
}

// New constructs the memory manager for m. Init must be called before any
// allocation.
func New(m *hal.Machine) *Memory {
	return &Memory{
		m:           m,
		totalFrames: m.MemorySize() / mikros.PageSize,
	}
}

// Init scans and reserves the boot regions, builds the kernel page
// directory with the identity mapping, and turns paging on.
//
// The low megabyte (BIOS, EBDA, video memory), the kernel image, and the
// frames backing the bitmap itself are marked allocated and are never freed.
func (mm *Memory) Init() error {
	mm.frames = bitmap.New(mm.totalFrames)

	reserve := func(begin, end uint32) {
		if end > mm.totalFrames {
			end = mm.totalFrames
		}
		if begin < end {
			mm.frames.AddRange(begin, end)
		}
	}

	// Low 1 MiB.
	reserve(0, (1<<20)/mikros.PageSize)

	// Kernel image, by load convention.
	reserve(mikros.KernelImageBase/mikros.PageSize, mikros.KernelImageEnd/mikros.PageSize)

	// The bitmap storage itself, one bit per frame, placed directly after
	// the kernel image.
	bitmapBytes := (mm.totalFrames + 7) / 8
	bitmapFrames := (bitmapBytes + mikros.PageSize - 1) / mikros.PageSize
	bitmapBase := uint32(mikros.KernelImageEnd / mikros.PageSize)
	reserve(bitmapBase, bitmapBase+bitmapFrames)

	// Boot data: the staging region the loader filled with the service
	// images.
	stagingBase := uint32(mikros.ServiceImageBase / mikros.PageSize)
	stagingFrames := uint32(5 * mikros.ServiceImageStride / mikros.PageSize)
	reserve(stagingBase, stagingBase+stagingFrames)

	pd, ok := mm.NewPageDirectory()
	if !ok {
		return mkerr.ErrOutOfMemory
	}
	mm.kernelPD = pd
	if !mm.MapKernel(pd) {
		return mkerr.ErrOutOfMemory
	}

	mm.m.EnablePaging(pd)

	log.Infof("memory: %d KiB tracked, %d frames reserved", mm.m.MemorySize()/1024, mm.frames.GetNumOnes())
	return nil
}

// KernelPageDirectory returns the kernel's own page directory.
func (mm *Memory) KernelPageDirectory() uint32 {
	return mm.kernelPD
}

// AllocPages finds count contiguous free frames by first fit, marks them
// used, and returns the base physical address. The second result is false
// when no run of that length exists.
func (mm *Memory) AllocPages(count uint32) (uint32, bool) {
	if count == 0 {
		return 0, false
	}
	base, ok := mm.frames.FirstZeroRun(0, count)
	if !ok {
		return 0, false
	}
	mm.frames.AddRange(base, base+count)
	return base * mikros.PageSize, true
}

// FreePages clears the bitmap bits for count frames at addr. Double frees
// are a logic error and are not detected.
func (mm *Memory) FreePages(addr, count uint32) {
	frame := addr / mikros.PageSize
	for i := uint32(0); i < count; i++ {
		mm.frames.Remove(frame + i)
	}
}

// AllocZeroedPages is AllocPages followed by clearing the frames.
func (mm *Memory) AllocZeroedPages(count uint32) (uint32, bool) {
	addr, ok := mm.AllocPages(count)
	if !ok {
		return 0, false
	}
	zero := make([]byte, count*mikros.PageSize)
	mm.m.WriteBytes(addr, zero)
	return addr, true
}

// AllocatedFrames returns the number of frames currently marked used,
// including the boot reservations.
func (mm *Memory) AllocatedFrames() uint32 {
	return mm.frames.GetNumOnes()
}

// TotalFrames returns the number of tracked frames.
func (mm *Memory) TotalFrames() uint32 {
	return mm.totalFrames
}

// Stats returns total and used bytes.
func (mm *Memory) Stats() (total, used uint32) {
	return mm.totalFrames * mikros.PageSize, mm.frames.GetNumOnes() * mikros.PageSize
}

// SnapshotFrames returns a copy of the frame bitmap, for the round-trip
// checks in tests.
func (mm *Memory) SnapshotFrames() bitmap.Bitmap {
	return mm.frames.Clone()
}

// FramesEqual reports whether the current bitmap matches a snapshot.
func (mm *Memory) FramesEqual(snap *bitmap.Bitmap) bool {
	return mm.frames.Equals(snap)
}
