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
	"testing"

	"mikros.dev/mikros/pkg/abi/mikros"
	"mikros.dev/mikros/pkg/errors/mkerr"
)

func TestGrantRestrictedToKernelIdentity(t *testing.T) {
	k := newTestKernel(t, 1)

	if err := k.GrantCapability(5, 6, mikros.CapSystem, 0, 0); err != mkerr.ErrPermission {
		t.Errorf("grant from PID 5: %v, want permission denied", err)
	}
	if err := k.GrantCapability(0, 6, mikros.CapSystem, 0, 0); err != nil {
		t.Errorf("grant from kernel identity: %v", err)
	}
	if !k.CheckCapability(6, mikros.CapSystem, 0) {
		t.Error("granted capability does not check")
	}
	if err := k.RevokeCapability(5, 6, mikros.CapSystem, 0); err != mkerr.ErrPermission {
		t.Errorf("revoke from PID 5: %v, want permission denied", err)
	}
	if err := k.RevokeCapability(0, 6, mikros.CapSystem, 0); err != nil {
		t.Errorf("revoke from kernel identity: %v", err)
	}
	if k.CheckCapability(6, mikros.CapSystem, 0) {
		t.Error("capability survives revocation")
	}
}

func TestCheckRequiresPermissionSuperset(t *testing.T) {
	k := newTestKernel(t, 1)

	k.GrantCapability(0, 9, mikros.CapMemory, mikros.PermAlloc, 0)
	if !k.CheckCapability(9, mikros.CapMemory, mikros.PermAlloc) {
		t.Error("exact permission check failed")
	}
	if k.CheckCapability(9, mikros.CapMemory, mikros.PermAlloc|mikros.PermFree) {
		t.Error("superset permission check passed")
	}
	if k.CheckCapability(9, mikros.CapDriver, mikros.PermAlloc) {
		t.Error("wrong-kind check passed")
	}
}

func TestSignatureTamper(t *testing.T) {
	k := newTestKernel(t, 1)

	k.GrantCapability(0, 9, mikros.CapDriver, mikros.PermWrite, 0)
	caps := k.Capabilities(9)
	if len(caps) != 1 {
		t.Fatalf("capability count %d", len(caps))
	}
	caps[0].Permissions |= mikros.PermTransfer // Tamper without re-signing.
	if k.CheckCapability(9, mikros.CapDriver, mikros.PermWrite) {
		t.Error("tampered capability still verifies")
	}
}

func TestCapabilityExpiry(t *testing.T) {
	k := newTestKernel(t, 1)

	k.GrantCapability(0, 9, mikros.CapHardware, mikros.PermRead, 0)
	caps := k.Capabilities(9)
	if err := k.SetCapabilityExpiration(9, caps[0], 5); err != nil {
		t.Fatalf("SetCapabilityExpiration: %v", err)
	}
	if !k.CheckCapability(9, mikros.CapHardware, mikros.PermRead) {
		t.Error("capability invalid before its deadline")
	}
	k.ticks = 5
	if k.CheckCapability(9, mikros.CapHardware, mikros.PermRead) {
		t.Error("capability valid past its deadline")
	}
	k.CleanupExpiredCapabilities()
	if len(k.Capabilities(9)) != 0 {
		t.Error("expired capability not swept")
	}
}

func TestTransfer(t *testing.T) {
	k := newTestKernel(t, 1)

	k.GrantCapability(0, 9, mikros.CapDriver, mikros.PermWrite, 0)
	caps := k.Capabilities(9)
	if err := k.TransferCapability(9, caps[0], 10); err != mkerr.ErrPermission {
		t.Errorf("transfer without PermTransfer: %v, want permission denied", err)
	}

	k.GrantCapability(0, 9, mikros.CapDriver, mikros.PermWrite|mikros.PermTransfer, 7)
	movable := k.Capabilities(9)[1]
	if err := k.TransferCapability(10, movable, 10); err != mkerr.ErrPermission {
		t.Errorf("transfer by non-owner: %v, want permission denied", err)
	}
	if err := k.TransferCapability(9, movable, 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !k.CheckCapability(10, mikros.CapDriver, mikros.PermWrite) {
		t.Error("transferred capability does not verify for the new owner")
	}
}

func TestPerTaskCapabilityBound(t *testing.T) {
	k := newTestKernel(t, 1)

	for i := 0; i < mikros.MaxCapsPerTask; i++ {
		if err := k.GrantCapability(0, 9, mikros.CapProcess, uint32(i+1), 0); err != nil {
			t.Fatalf("grant %d failed: %v", i, err)
		}
	}
	if err := k.GrantCapability(0, 9, mikros.CapProcess, 0xFF, 0); err != mkerr.ErrOutOfMemory {
		t.Errorf("grant past the per-task bound: %v, want out of memory", err)
	}
	if got := len(k.Capabilities(9)); got != mikros.MaxCapsPerTask {
		t.Errorf("capability count %d, want %d", got, mikros.MaxCapsPerTask)
	}
}
