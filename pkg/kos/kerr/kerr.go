// Copyright 2026 The KOS Authors.
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

// Package kerr defines the component-agnostic error taxonomy shared by
// every KOS component, and the wrapping helpers dispatch uses to attach
// diagnostic context without losing the underlying Kind.
package kerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds a component operation can fail with.
// Components fail fast with a typed Kind; System Call Dispatch translates
// it to the caller uniformly. Never add ad-hoc error strings where a Kind
// applies — callers switch on Kind, not on message text.
type Kind int

const (
	// Unknown is never returned deliberately; its presence on an error
	// indicates a bug in the component that produced it.
	Unknown Kind = iota
	NotFound
	AlreadyExists
	PermissionDenied
	InvalidArgument
	OutOfMemory
	NoSpace
	WouldBlock
	Interrupted
	Timeout
	BrokenPipe
	NotDirectory
	IsDirectory
	NotEmpty
	SymlinkLoop
	NameTooLong
	ReadOnly
	Corrupt
	BadState
)

var kindNames = [...]string{
	Unknown:          "unknown",
	NotFound:         "not_found",
	AlreadyExists:    "already_exists",
	PermissionDenied: "permission_denied",
	InvalidArgument:  "invalid_argument",
	OutOfMemory:      "out_of_memory",
	NoSpace:          "no_space",
	WouldBlock:       "would_block",
	Interrupted:      "interrupted",
	Timeout:          "timeout",
	BrokenPipe:       "broken_pipe",
	NotDirectory:     "not_directory",
	IsDirectory:      "is_directory",
	NotEmpty:         "not_empty",
	SymlinkLoop:      "symlink_loop",
	NameTooLong:      "name_too_long",
	ReadOnly:         "read_only",
	Corrupt:          "corrupt",
	BadState:         "bad_state",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Error is a Kind paired with a component-supplied message and, optionally,
// a wrapped cause. Error implements the standard error interface and
// supports errors.Is/errors.As/errors.Unwrap via its Unwrap method.
type Error struct {
	Kind    Kind
	Op      string // component operation, e.g. "vfs.Open", "pgalloc.Alloc"
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New constructs an *Error of the given Kind, attaching a stack-carrying
// wrap via pkg/errors so that Sprintf("%+v", err) prints a trace back to
// the call site that first observed the failure.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, cause: errors.New(message)}
}

// Wrap attaches op and a Kind to an existing error, preserving it as the
// cause. Wrap is the usual way a component boundary (e.g. dispatch)
// translates an underlying failure into the uniform taxonomy.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: cause.Error(), cause: errors.WithStack(cause)}
}

// Is reports whether err (or anything it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Kind == k
}

// KindOf extracts the Kind of err, or Unknown if err is not (and does not
// wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		err = errors.Unwrap(err)
	}
	if e == nil {
		return Unknown
	}
	return e.Kind
}
