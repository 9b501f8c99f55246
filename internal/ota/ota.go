// Package ota receives firmware uploads during a maintenance window.
// The upload protocol is serviced cooperatively: network I/O is accepted on
// server goroutines, but sessions only run inside Handle, on the caller's
// goroutine, and every callback fires there.
package ota

import (
	"context"
	"fmt"
)

// Command is what an upload replaces.
type Command string

const (
	CommandFlash      Command = "flash"
	CommandFilesystem Command = "filesystem"
)

// ErrorKind classifies upload failures.
type ErrorKind int

const (
	ErrOther ErrorKind = iota
	ErrAuth
	ErrBegin
	ErrConnect
	ErrReceive
	ErrEnd
)

func (k ErrorKind) String() string {
	switch k {
	case ErrAuth:
		return "Authentication failed"
	case ErrBegin:
		return "Begin failed"
	case ErrConnect:
		return "Connect failed"
	case ErrReceive:
		return "Receive failed"
	case ErrEnd:
		return "End failed"
	default:
		return "Other error"
	}
}

// Label is a short lower-case name for metrics and event payloads.
func (k ErrorKind) Label() string {
	switch k {
	case ErrAuth:
		return "auth"
	case ErrBegin:
		return "begin"
	case ErrConnect:
		return "connect"
	case ErrReceive:
		return "receive"
	case ErrEnd:
		return "end"
	default:
		return "other"
	}
}

// Error is an upload failure of a given kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Callbacks receive upload lifecycle notifications. Nil fields are skipped.
type Callbacks struct {
	OnStart    func(cmd Command)
	OnProgress func(done, total int64)
	OnError    func(err *Error)
	OnEnd      func()
}

func (c Callbacks) start(cmd Command) {
	if c.OnStart != nil {
		c.OnStart(cmd)
	}
}

func (c Callbacks) progress(done, total int64) {
	if c.OnProgress != nil {
		c.OnProgress(done, total)
	}
}

func (c Callbacks) fail(err *Error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c Callbacks) end() {
	if c.OnEnd != nil {
		c.OnEnd()
	}
}

// Service is an upload service driven by the loop.
type Service interface {
	// Handle services pending upload work and returns. A session in
	// progress is abandoned with ErrReceive once ctx is done.
	Handle(ctx context.Context)

	// SetCallbacks installs the lifecycle callbacks.
	SetCallbacks(cb Callbacks)
}
