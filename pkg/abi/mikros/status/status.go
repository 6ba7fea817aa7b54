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

// Package status holds the raw status codes of the kernel syscall boundary.
package status

// Status is a signed 32-bit syscall status. Zero is success, negative values
// are errors, and handlers may return positive values (a PID, a byte count or
// a pointer cast) through the same register slot.
type Status int32

// Status codes returned in EAX.
const (
	OK               Status = 0
	Error            Status = -1
	InvalidParam     Status = -2
	OutOfMemory      Status = -3
	PermissionDenied Status = -4
	NotFound         Status = -5
	Timeout          Status = -6
	AlreadyExists    Status = -7
	NotImplemented   Status = -8
)

// String implements fmt.Stringer.String.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	case InvalidParam:
		return "INVALID_PARAM"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case NotFound:
		return "NOT_FOUND"
	case Timeout:
		return "TIMEOUT"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return "UNKNOWN"
	}
}
