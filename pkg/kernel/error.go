// Copyright 2026 The gVisor Authors.
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

// Package kernel holds the fatal error path of the simulated kernel.
//
// Contract violations inside the kernel are not recoverable: they mean memory
// is already corrupt. Code that detects one calls Panic with an *Error naming
// the violating site, and Panic halts the machine.
package kernel

// Error describes a kernel error. Kernel errors are defined as global
// variables that are pointers to Error, so reporting one never allocates.
type Error struct {
	// Module is the subsystem where the error occurred.
	Module string

	// Message identifies the violating site.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}
