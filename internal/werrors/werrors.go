// Package werrors defines warder's error taxonomy and the typed codes
// the IPC Hub maps responses onto.
package werrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the taxonomy of spec.md §7.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindUnreachable       Kind = "Unreachable"
	KindTimeout           Kind = "Timeout"
	KindResourceExhausted Kind = "ResourceExhausted"
	KindPolicyRejected    Kind = "PolicyRejected"
	KindInternal          Kind = "Internal"
)

// Code is the stable integer returned in IPC error responses.
type Code int

const (
	CodeMalformed         Code = 4000
	CodeRoomNotFound      Code = 1001
	CodeRoomCreateFailed  Code = 1002
	CodeWorkerNotFound    Code = 2001
	CodeWorkerSpawnFailed Code = 2002
	CodeTaskNotFound      Code = 3001
	CodeTaskRejected      Code = 3002
	CodeFileSyncError     Code = 4001
	CodeMergeConflict     Code = 4002
	CodeConflictNotFound  Code = 4003
)

// Error is a typed, wrapped error carrying a Kind and IPC Code.
type Error struct {
	Kind Kind
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind/code.
func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap builds an Error of the given kind/code around a cause.
func Wrap(kind Kind, code Code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: cause}
}

// NotFound returns a NotFound error for the given resource kind and ID,
// choosing the matching IPC code.
func NotFound(resource, id string) *Error {
	code := CodeMalformed
	switch resource {
	case "room":
		code = CodeRoomNotFound
	case "worker":
		code = CodeWorkerNotFound
	case "task":
		code = CodeTaskNotFound
	case "conflict":
		code = CodeConflictNotFound
	}
	return New(KindNotFound, code, fmt.Sprintf("%s %q not found", resource, id))
}

// As is a re-export of errors.As for convenience at call sites that
// otherwise only import this package.
func As(err error, target any) bool { return errors.As(err, target) }
