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
	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/errors/mkerr"
	"mikros.dev/mikros/pkg/log"
	"mikros.dev/mikros/pkg/mm"
)

// Service is one boot service: an image staged by the boot loader and a
// program body bound to its entry point.
type Service struct {
	// Name is the service name, for diagnostics.
	Name string

	// Image is the binary staged at the service's slot, at most
	// ServiceImageMax bytes.
	Image []byte

	// Program is the body run when the task is scheduled.
	Program Program
}

// StartServices stages and launches the boot services in order, giving
// them PIDs 1..5: init, keyboard, console, timer, shell. Each service's
// image is copied from the staging region into fresh frames mapped at the
// service load address of its own address space.
func (k *Kernel) StartServices(services []Service) error {
	for i, svc := range services {
		if uint32(len(svc.Image)) > mikros.ServiceImageMax {
			return mkerr.ErrInvalidParam
		}
		// The boot loader staged the image here.
		staging := uint32(mikros.ServiceImageBase) + uint32(i)*mikros.ServiceImageStride
		if len(svc.Image) > 0 {
			k.m.WriteBytes(staging, svc.Image)
		}
		if _, err := k.startService(staging, uint32(len(svc.Image)), svc.Program); err != nil {
			log.Warningf("boot: service %q failed to start: %v", svc.Name, err)
			return err
		}
		log.Infof("boot: service %q started as PID %d", svc.Name, i+1)
	}
	return nil
}

// startService builds a user task whose text window at the service load
// address is a copy of the staged image.
func (k *Kernel) startService(staging, size uint32, program Program) (*Task, error) {
	t, err := k.NewTask(0, true)
	if err != nil {
		return nil, err
	}

	pages := (size + mikros.PageSize - 1) / mikros.PageSize
	if pages == 0 {
		pages = 1
	}
	for i := uint32(0); i < pages; i++ {
		frame, ok := k.mem.AllocPages(1)
		if !ok {
			k.destroyUnstartedTask(t)
			return nil, mkerr.ErrOutOfMemory
		}
		va := uint32(mikros.ServiceLoadAddr) + i*mikros.PageSize
		if !k.mem.MapPage(t.pageDir, va, frame, mm.FlagsUser) {
			k.mem.FreePages(frame, 1)
			k.destroyUnstartedTask(t)
			return nil, mkerr.ErrOutOfMemory
		}
		// Copy the staged page through the kernel identity map.
		k.m.WriteBytes(frame, k.m.ReadBytes(staging+i*mikros.PageSize, mikros.PageSize))
	}

	k.SetupTask(t, mikros.ServiceLoadAddr, program)
	k.AddTask(t)
	return t, nil
}
