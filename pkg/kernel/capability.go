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
)

// Capability is an access right held by a process. The table is flat with a
// per-process bound; checks scan for an owner/kind match with a permission
// superset, an unexpired lifetime, and an intact signature.
type Capability struct {
	// ID is the unique capability identifier.
	ID uint32

	// OwnerPID is the process holding the capability. Weak reference.
	OwnerPID uint32

	// Kind classifies the covered resource.
	Kind mikros.CapKind

	// Permissions is the permission bitmask.
	Permissions uint32

	// ResourceID names a specific resource, zero for any.
	ResourceID uint32

	// ExpiresAt is a tick deadline, zero for no expiry.
	ExpiresAt uint32

	// Signature is the integrity checksum over the other fields. It is a
	// plain XOR fold, as the capability format prescribes; it detects
	// corruption, not forgery.
	Signature uint32
}

func (c *Capability) checksum() uint32 {
	return c.ID ^ c.OwnerPID ^ uint32(c.Kind) ^ c.Permissions ^ c.ResourceID ^ c.ExpiresAt
}

func (c *Capability) sign() {
	c.Signature = c.checksum()
}

func (c *Capability) verify() bool {
	return c.Signature == c.checksum()
}

func (k *Kernel) capabilityInit() {
	for i := range k.caps {
		k.caps[i] = nil
	}
	k.capCount = 0
	k.nextCapID = 1
	log.Infof("capability: table ready (%d slots)", len(k.caps))
}

// createCapability allocates and signs a capability for ownerPID. It
// enforces both the global table bound and the per-process limit.
func (k *Kernel) createCapability(ownerPID uint32, kind mikros.CapKind, permissions, resourceID uint32) (*Capability, error) {
	if k.capCount >= uint32(len(k.caps)) {
		return nil, mkerr.ErrOutOfMemory
	}
	owned := 0
	for _, c := range k.caps {
		if c != nil && c.OwnerPID == ownerPID {
			owned++
		}
	}
	if owned >= mikros.MaxCapsPerTask {
		return nil, mkerr.ErrOutOfMemory
	}

	cap := &Capability{
		ID:          k.nextCapID,
		OwnerPID:    ownerPID,
		Kind:        kind,
		Permissions: permissions,
		ResourceID:  resourceID,
	}
	k.nextCapID++
	cap.sign()

	for i := range k.caps {
		if k.caps[i] == nil {
			k.caps[i] = cap
			k.capCount++
			return cap, nil
		}
	}
	return nil, mkerr.ErrOutOfMemory
}

// CheckCapability reports whether pid holds an unexpired, intact capability
// of the given kind whose permissions cover the requested mask.
func (k *Kernel) CheckCapability(pid uint32, kind mikros.CapKind, permissions uint32) bool {
	for _, c := range k.caps {
		if c == nil || c.OwnerPID != pid || c.Kind != kind {
			continue
		}
		if c.Permissions&permissions != permissions {
			continue
		}
		if c.ExpiresAt != 0 && c.ExpiresAt <= k.ticks {
			continue
		}
		if c.verify() {
			return true
		}
	}
	return false
}

// GrantCapability creates a capability for pid. Granting is a privileged
// operation restricted to the kernel's bookkeeping identity: a task caller
// must be PID 0, and only the kernel itself (no current task) or PID 0 may
// reach this through a syscall.
func (k *Kernel) GrantCapability(callerPID, pid uint32, kind mikros.CapKind, permissions, resourceID uint32) error {
	if callerPID != 0 {
		return mkerr.ErrPermission
	}
	_, err := k.createCapability(pid, kind, permissions, resourceID)
	return err
}

// RevokeCapability destroys every capability of pid matching kind, and
// resourceID when nonzero. Restricted to the kernel's bookkeeping identity.
func (k *Kernel) RevokeCapability(callerPID, pid uint32, kind mikros.CapKind, resourceID uint32) error {
	if callerPID != 0 {
		return mkerr.ErrPermission
	}
	for i, c := range k.caps {
		if c == nil || c.OwnerPID != pid || c.Kind != kind {
			continue
		}
		if resourceID != 0 && c.ResourceID != resourceID {
			continue
		}
		k.caps[i] = nil
		k.capCount--
	}
	return nil
}

// TransferCapability moves a capability to a new owner. The caller must be
// the current owner and the capability must carry the transfer permission.
func (k *Kernel) TransferCapability(callerPID uint32, cap *Capability, newOwnerPID uint32) error {
	if cap == nil {
		return mkerr.ErrInvalidParam
	}
	if cap.OwnerPID != callerPID {
		return mkerr.ErrPermission
	}
	if cap.Permissions&mikros.PermTransfer == 0 {
		return mkerr.ErrPermission
	}
	cap.OwnerPID = newOwnerPID
	cap.sign()
	return nil
}

// SetCapabilityExpiration sets a tick deadline on an owned capability.
func (k *Kernel) SetCapabilityExpiration(callerPID uint32, cap *Capability, expiresAt uint32) error {
	if cap == nil {
		return mkerr.ErrInvalidParam
	}
	if cap.OwnerPID != callerPID {
		return mkerr.ErrPermission
	}
	cap.ExpiresAt = expiresAt
	cap.sign()
	return nil
}

// CleanupExpiredCapabilities sweeps capabilities whose deadline has passed.
func (k *Kernel) CleanupExpiredCapabilities() {
	for i, c := range k.caps {
		if c != nil && c.ExpiresAt != 0 && c.ExpiresAt <= k.ticks {
			k.caps[i] = nil
			k.capCount--
		}
	}
}

// Capabilities returns the capabilities owned by pid.
func (k *Kernel) Capabilities(pid uint32) []*Capability {
	var out []*Capability
	for _, c := range k.caps {
		if c != nil && c.OwnerPID == pid {
			out = append(out, c)
		}
	}
	return out
}

// revokeAllCapabilities drops everything a dead process owned.
func (k *Kernel) revokeAllCapabilities(pid uint32) {
	for i, c := range k.caps {
		if c != nil && c.OwnerPID == pid {
			k.caps[i] = nil
			k.capCount--
		}
	}
}

// grantDefaultCapabilities seeds a fresh task with the baseline rights
// every task needs to use the syscall surface: process creation, memory
// allocation, and message passing.
func (k *Kernel) grantDefaultCapabilities(pid uint32) {
	if _, err := k.createCapability(pid, mikros.CapProcess, mikros.PermCreate|mikros.PermDelete, 0); err != nil {
		log.Warningf("capability: default process grant for %d failed: %v", pid, err)
	}
	if _, err := k.createCapability(pid, mikros.CapMemory, mikros.PermAlloc|mikros.PermFree|mikros.PermRead|mikros.PermWrite, 0); err != nil {
		log.Warningf("capability: default memory grant for %d failed: %v", pid, err)
	}
	if _, err := k.createCapability(pid, mikros.CapIPC, mikros.PermRead|mikros.PermWrite, 0); err != nil {
		log.Warningf("capability: default ipc grant for %d failed: %v", pid, err)
	}
}
