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

package kernel

import (
	"kmem.dev/kmem/pkg/log"
)

var (
	// haltFn is invoked after the panic report is written. A host process
	// cannot stop its CPU, so the default unwinds the calling goroutine with
	// the error as the panic value.
	haltFn = defaultHalt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

func defaultHalt(err *Error) {
	if err == nil {
		panic("kernel panic")
	}
	panic(err)
}

// SetHaltFunc replaces the function called by Panic once the report has been
// written and returns a function that restores the previous one. If fn
// returns, so does Panic, and the caller must stop what it was doing.
func SetHaltFunc(fn func(*Error)) (restore func()) {
	prev := haltFn
	haltFn = fn
	return func() { haltFn = prev }
}

// Panic reports the supplied error (if not nil) at warning level and halts
// the machine. e may be an *Error, a string or an error.
func Panic(e any) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		err = &Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	log.WarningfAtDepth(1, "-----------------------------------")
	if err != nil {
		log.WarningfAtDepth(1, "[%s] unrecoverable error: %s", err.Module, err.Message)
	}
	log.WarningfAtDepth(1, "*** kernel panic: system halted ***")
	log.WarningfAtDepth(1, "-----------------------------------")

	haltFn(err)
}
