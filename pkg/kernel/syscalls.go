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
	"mikros.dev/mikros/pkg/abi/mikros/status"
	"mikros.dev/mikros/pkg/errors/mkerr"
	"mikros.dev/mikros/pkg/log"
	"mikros.dev/mikros/pkg/mm"
)

// syscallFn is a syscall handler: EBX/ECX/EDX in, signed EAX out.
type syscallFn func(t *Task, ebx, ecx, edx uint32) int32

// capRequirement is the capability gate of one syscall.
type capRequirement struct {
	kind        mikros.CapKind
	permissions uint32
}

// syscallGates maps syscall numbers to their capability requirements.
// Yield is deliberately exempt to keep the gating path off the scheduling
// hot path; exit and debug_print are exempt so a failing task can always
// leave and report.
var syscallGates = map[uint32]capRequirement{
	mikros.SysProcessCreate:  {mikros.CapProcess, mikros.PermCreate},
	mikros.SysProcessKill:    {mikros.CapProcess, mikros.PermDelete},
	mikros.SysMemoryAlloc:    {mikros.CapMemory, mikros.PermAlloc},
	mikros.SysMemoryFree:     {mikros.CapMemory, mikros.PermFree},
	mikros.SysMemoryMap:      {mikros.CapMemory, mikros.PermWrite},
	mikros.SysIPCSend:        {mikros.CapIPC, mikros.PermWrite},
	mikros.SysIPCReceive:     {mikros.CapIPC, mikros.PermRead},
	mikros.SysIPCRegister:    {mikros.CapIPC, mikros.PermWrite},
	mikros.SysDriverRequest:  {mikros.CapIPC, mikros.PermWrite},
	mikros.SysSystemShutdown: {mikros.CapSystem, 0},
}

func (k *Kernel) syscallInit() {
	k.syscalls[mikros.SysProcessCreate] = k.sysProcessCreate
	k.syscalls[mikros.SysProcessExit] = k.sysProcessExit
	k.syscalls[mikros.SysProcessYield] = k.sysProcessYield
	k.syscalls[mikros.SysProcessKill] = k.sysProcessKill
	k.syscalls[mikros.SysMemoryAlloc] = k.sysMemoryAlloc
	k.syscalls[mikros.SysMemoryFree] = k.sysMemoryFree
	k.syscalls[mikros.SysMemoryMap] = k.sysMemoryMap
	k.syscalls[mikros.SysIPCSend] = k.sysIPCSend
	k.syscalls[mikros.SysIPCReceive] = k.sysIPCReceive
	k.syscalls[mikros.SysIPCRegister] = k.sysIPCRegister
	k.syscalls[mikros.SysDriverRegister] = k.sysDriverRegister
	k.syscalls[mikros.SysDriverRequest] = k.sysDriverRequest
	k.syscalls[mikros.SysSystemShutdown] = k.sysSystemShutdown
	k.syscalls[mikros.SysDebugPrint] = k.sysDebugPrint
	log.Infof("syscall: table ready")
}

// syscallDispatch reads the number and arguments out of the trap frame,
// applies the capability gate, invokes the handler, and writes the result
// back into the frame's EAX slot for the unwind to restore.
func (k *Kernel) syscallDispatch(tc trapContext) {
	f := k.readTrapFrame(tc.base, tc.cross)
	num := f.EAX

	var res int32
	switch {
	case num >= mikros.MaxSyscall || k.syscalls[num] == nil:
		res = int32(status.NotImplemented)
	default:
		cur := k.Current()
		if cur == nil {
			res = int32(status.PermissionDenied)
		} else if gate, gated := syscallGates[num]; gated && !k.CheckCapability(cur.pid, gate.kind, gate.permissions) {
			res = int32(status.PermissionDenied)
		} else {
			res = k.syscalls[num](cur, f.EBX, f.ECX, f.EDX)
		}
	}

	k.m.Write32(tc.base+frameOffEAX, uint32(res))
}

func errStatus(err error) int32 {
	return int32(mkerr.ToStatus(err))
}

func (k *Kernel) sysProcessCreate(t *Task, ebx, ecx, edx uint32) int32 {
	if t.program == nil || !t.isUser {
		return int32(status.PermissionDenied)
	}
	child, err := k.NewTask(t.pid, true)
	if err != nil {
		return errStatus(err)
	}
	// The child runs the parent's image: its user text window is copied
	// into fresh frames in the child's address space.
	if !k.copyUserImage(t, child) {
		k.destroyUnstartedTask(child)
		return int32(status.OutOfMemory)
	}
	k.SetupTask(child, t.entry, t.program)
	k.AddTask(child)
	return int32(child.pid)
}

// copyUserImage clones the parent's service image window into the child.
func (k *Kernel) copyUserImage(parent, child *Task) bool {
	for off := uint32(0); off < mikros.ServiceImageMax; off += mikros.PageSize {
		va := uint32(mikros.ServiceLoadAddr) + off
		pte := k.mem.LookupPTE(parent.pageDir, va)
		if pte&mm.PtePresent == 0 {
			continue
		}
		frame, ok := k.mem.AllocPages(1)
		if !ok {
			return false
		}
		if !k.mem.MapPage(child.pageDir, va, frame, mm.FlagsUser) {
			k.mem.FreePages(frame, 1)
			return false
		}
		src := pte &^ uint32(mikros.PageSize-1)
		k.m.WriteBytes(frame, k.m.ReadBytes(src, mikros.PageSize))
	}
	return true
}

// destroyUnstartedTask releases a task that failed between NewTask and
// AddTask.
func (k *Kernel) destroyUnstartedTask(t *Task) {
	k.revokeAllCapabilities(t.pid)
	if t.pageDir != 0 {
		k.mem.DestroyPageDirectory(t.pageDir)
	}
	if t.kernelStack != 0 {
		k.mem.FreePages(t.kernelStack, kernelStackPages)
	}
	if t.userStack != 0 {
		k.mem.FreePages(t.userStack, userStackPages)
	}
	t.state = TaskTerminated
	t.gen++
	k.used[t.slot] = false
	close(t.wake)
}

func (k *Kernel) sysProcessExit(t *Task, ebx, ecx, edx uint32) int32 {
	k.ExitTask(t, ebx)
	return int32(status.OK) // Unreachable: ExitTask on the caller never returns.
}

func (k *Kernel) sysProcessYield(t *Task, ebx, ecx, edx uint32) int32 {
	k.Yield()
	return int32(status.OK)
}

func (k *Kernel) sysProcessKill(t *Task, ebx, ecx, edx uint32) int32 {
	target := k.FindTask(ebx)
	if target == nil {
		return int32(status.NotFound)
	}
	// The caller must own the target (be it or its creator) or hold a
	// system capability.
	if target.pid != t.pid && target.parentPID != t.pid && !k.CheckCapability(t.pid, mikros.CapSystem, 0) {
		return int32(status.PermissionDenied)
	}
	k.ExitTask(target, 0)
	return int32(status.OK)
}

func (k *Kernel) sysMemoryAlloc(t *Task, ebx, ecx, edx uint32) int32 {
	size := ebx
	if size == 0 {
		return int32(status.InvalidParam)
	}
	pages := (size + mikros.PageSize - 1) / mikros.PageSize
	base, ok := k.mem.AllocPages(pages)
	if !ok {
		return int32(status.OutOfMemory)
	}
	for i := uint32(0); i < pages; i++ {
		addr := base + i*mikros.PageSize
		if !k.mem.MapPage(t.pageDir, addr, addr, mm.FlagsUser) {
			k.mem.FreePages(base, pages)
			return int32(status.OutOfMemory)
		}
	}
	return int32(base)
}

func (k *Kernel) sysMemoryFree(t *Task, ebx, ecx, edx uint32) int32 {
	ptr := ebx
	if ptr == 0 || ptr%mikros.PageSize != 0 {
		return int32(status.InvalidParam)
	}
	// A single page in this revision.
	k.mem.UnmapPage(t.pageDir, ptr)
	k.mem.FreePages(ptr, 1)
	return int32(status.OK)
}

func (k *Kernel) sysMemoryMap(t *Task, ebx, ecx, edx uint32) int32 {
	va, pa, flags := ebx, ecx, edx
	if pa >= k.m.MemorySize() {
		return int32(status.InvalidParam)
	}
	if !k.mem.MapPage(t.pageDir, va, pa, flags&(mm.PtePresent|mm.PteWrite|mm.PteUser)|mm.PtePresent) {
		return int32(status.OutOfMemory)
	}
	return int32(status.OK)
}

// copyMessageIn copies the wire message at a user virtual address into
// kernel memory.
func (k *Kernel) copyMessageIn(t *Task, msgVA uint32) (*mikros.MessageHeader, []byte, int32) {
	raw, fault := k.mem.CopyFromUser(t.pageDir, msgVA, mikros.MessageHeaderSize)
	if fault != nil {
		return nil, nil, int32(status.InvalidParam)
	}
	var hdr mikros.MessageHeader
	hdr.UnmarshalBytes(raw)
	if hdr.DataSize > mikros.MaxMessageData {
		return nil, nil, int32(status.InvalidParam)
	}
	var data []byte
	if hdr.DataSize > 0 {
		data, fault = k.mem.CopyFromUser(t.pageDir, msgVA+mikros.MessageHeaderSize, hdr.DataSize)
		if fault != nil {
			return nil, nil, int32(status.InvalidParam)
		}
	}
	return &hdr, data, int32(status.OK)
}

// copyMessageOut writes a kernel message to a user virtual address.
func (k *Kernel) copyMessageOut(t *Task, msgVA uint32, m *Message) int32 {
	buf := make([]byte, mikros.MessageHeaderSize+len(m.Data))
	m.Header.MarshalBytes(buf)
	copy(buf[mikros.MessageHeaderSize:], m.Data)
	if fault := k.mem.CopyToUser(t.pageDir, msgVA, buf); fault != nil {
		return int32(status.InvalidParam)
	}
	return int32(status.OK)
}

func (k *Kernel) sysIPCSend(t *Task, ebx, ecx, edx uint32) int32 {
	if ecx == 0 {
		return int32(status.InvalidParam)
	}
	hdr, data, res := k.copyMessageIn(t, ecx)
	if res != int32(status.OK) {
		return res
	}
	if err := k.sendMessage(t.pid, ebx, hdr, data); err != nil {
		return errStatus(err)
	}
	return int32(status.OK)
}

func (k *Kernel) sysIPCReceive(t *Task, ebx, ecx, edx uint32) int32 {
	if ecx == 0 {
		return int32(status.InvalidParam)
	}
	m, err := k.receiveMessage(t, ebx, edx != 0)
	if err != nil {
		return errStatus(err)
	}
	return k.copyMessageOut(t, ecx, m)
}

func (k *Kernel) sysIPCRegister(t *Task, ebx, ecx, edx uint32) int32 {
	if ebx >= maxMsgHandlers || ecx == 0 {
		return int32(status.InvalidParam)
	}
	// The handler address is recorded but never jumped to: the kernel
	// does not call into user text. Kernel-side hooks use
	// RegisterMessageHandler.
	k.userMsgHandlers[ebx] = ecx
	return int32(status.OK)
}

func (k *Kernel) sysDriverRegister(t *Task, ebx, ecx, edx uint32) int32 {
	if ebx == 0 {
		return int32(status.InvalidParam)
	}
	name, fault := k.mem.CopyStringFromUser(t.pageDir, ebx, 64)
	if fault != nil || name == "" {
		return int32(status.InvalidParam)
	}
	if owner, ok := k.drivers[name]; ok && k.FindTask(owner) != nil {
		return int32(status.AlreadyExists)
	}
	if _, err := k.createCapability(t.pid, mikros.CapDriver, ecx, 0); err != nil {
		return errStatus(err)
	}
	k.drivers[name] = t.pid
	log.Infof("driver: %q registered by task %d", name, t.pid)
	return int32(status.OK)
}

func (k *Kernel) sysDriverRequest(t *Task, ebx, ecx, edx uint32) int32 {
	if !k.isDriver(ebx) {
		return int32(status.NotFound)
	}
	return k.sysIPCSend(t, ebx, ecx, edx)
}

func (k *Kernel) sysSystemShutdown(t *Task, ebx, ecx, edx uint32) int32 {
	log.Infof("syscall: shutdown requested by task %d", t.pid)
	k.Shutdown()
	// Hand the CPU back to the boot context and abandon this task; the
	// machine is halting.
	k.current = noTask
	select {
	case k.idleWake <- struct{}{}:
	default:
	}
	panic(errTaskDead)
}

func (k *Kernel) sysDebugPrint(t *Task, ebx, ecx, edx uint32) int32 {
	if ebx == 0 {
		return int32(status.InvalidParam)
	}
	s, fault := k.mem.CopyStringFromUser(t.pageDir, ebx, mikros.MaxMessageData)
	if fault != nil {
		return int32(status.InvalidParam)
	}
	k.console.WriteString(s)
	return int32(status.OK)
}

// isDriver reports whether pid registered under any service name.
func (k *Kernel) isDriver(pid uint32) bool {
	for _, owner := range k.drivers {
		if owner == pid {
			return true
		}
	}
	return false
}

// unregisterDrivers removes a dead task's service names.
func (k *Kernel) unregisterDrivers(pid uint32) {
	for name, owner := range k.drivers {
		if owner == pid {
			delete(k.drivers, name)
		}
	}
}

// DriverPID resolves a registered service name.
func (k *Kernel) DriverPID(name string) (uint32, bool) {
	pid, ok := k.drivers[name]
	return pid, ok
}
