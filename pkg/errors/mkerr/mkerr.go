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

// Package mkerr contains the kernel status codes exported as error interface
// pointers. This allows for fast identity comparison and a direct mapping to
// the signed EAX value the syscall dispatcher writes back into the trap
// frame.
package mkerr

import (
	"mikros.dev/mikros/pkg/abi/mikros/status"
	"mikros.dev/mikros/pkg/errors"
)

// The following errors correspond one to one with the wire statuses of the
// syscall boundary. Handlers return them directly; ToStatus translates a nil
// error to status.OK.
var (
	ErrGeneric        = errors.New(status.Error, "internal error")
	ErrInvalidParam   = errors.New(status.InvalidParam, "invalid parameter")
	ErrOutOfMemory    = errors.New(status.OutOfMemory, "out of memory")
	ErrPermission     = errors.New(status.PermissionDenied, "permission denied")
	ErrNotFound       = errors.New(status.NotFound, "not found")
	ErrTimeout        = errors.New(status.Timeout, "timed out")
	ErrAlreadyExists  = errors.New(status.AlreadyExists, "already exists")
	ErrNotImplemented = errors.New(status.NotImplemented, "not implemented")
)

// ToStatus translates an error to its wire status. A nil error is OK, and an
// error that is not a *errors.Error reports the generic internal status.
func ToStatus(err error) status.Status {
	if err == nil {
		return status.OK
	}
	if e, ok := err.(*errors.Error); ok {
		return e.Status()
	}
	return status.Error
}

// FromStatus returns the canonical error for a wire status, or nil for OK.
func FromStatus(s status.Status) error {
	switch s {
	case status.OK:
		return nil
	case status.InvalidParam:
		return ErrInvalidParam
	case status.OutOfMemory:
		return ErrOutOfMemory
	case status.PermissionDenied:
		return ErrPermission
	case status.NotFound:
		return ErrNotFound
	case status.Timeout:
		return ErrTimeout
	case status.AlreadyExists:
		return ErrAlreadyExists
	case status.NotImplemented:
		return ErrNotImplemented
	default:
		return ErrGeneric
	}
}
