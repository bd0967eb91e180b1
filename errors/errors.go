// Package errors provides a standard error definition for use in SCoOL.
// Each error is assigned a class of error (kind) and an operation with
// optional arguments. Errors may be chained, and thus can be used to
// annotate upstream errors.
//
// Package errors provides functions Errorf and New as convenience
// constructors, so that users need import only one error package.
//
// The API was inspired by package upspin.io/errors, by way of
// github.com/grailbio/reflow/errors.
package errors

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"runtime"
)

// Separator is inserted between chained errors while rendering.
var Separator = ":\n\t"

// Kind denotes the type of the error, per the taxonomy of configuration
// errors, invariant violations, and propagated user-code errors that the
// executors distinguish.
type Kind int

const (
	// Other denotes an unknown error.
	Other Kind = iota
	// Canceled denotes a cancellation error.
	Canceled
	// Timeout denotes a timeout error, e.g. a steal request that never
	// received an ANS/NONE reply.
	Timeout
	// Temporary denotes a transient error, e.g. a contended try-lock.
	Temporary
	// TooManyTries indicates that an operation was retried too many times.
	TooManyTries
	// Integrity denotes a violated invariant, e.g. local+remote != total.
	Integrity
	// Unavailable denotes that a peer or fabric connection is temporarily
	// unreachable.
	Unavailable
	// Fatal denotes an unrecoverable configuration error: insufficient
	// fabric threading support, a malformed config file, and the like.
	Fatal
	// Invalid indicates invalid state or data, e.g. a task that failed to
	// decode, or a fixed serialization buffer that overflowed.
	Invalid

	maxKind
)

// String renders a human-readable description of kind k.
func (k Kind) String() string {
	switch k {
	default:
		return "unknown error"
	case Canceled:
		return "canceled"
	case Timeout:
		return "timeout"
	case Temporary:
		return "temporary"
	case TooManyTries:
		return "too many tries"
	case Integrity:
		return "integrity violation"
	case Unavailable:
		return "unavailable"
	case Fatal:
		return "fatal"
	case Invalid:
		return "invalid"
	}
}

// Error defines a SCoOL error. It is used to indicate an error associated
// with an operation (and arguments), and may wrap another error.
//
// Errors should be constructed by errors.E.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Op is a one-word description of the operation that errored.
	Op string
	// Arg is an (optional) list of arguments to the operation.
	Arg []string
	// Err is this error's underlying error: this error is caused by Err.
	Err error
}

// E is used to construct errors. E constructs errors from a set of
// arguments; each of which must be one of the following types:
//
//	string
//		The first string argument is taken as the error's Op; subsequent
//		arguments are taken as the error's Arg.
//	Kind
//		Taken as the error's Kind.
//	error
//		Taken as the error's underlying error.
//
// If a Kind is provided, there is no further processing. If not, and an
// underlying error is provided, E attempts to interpret it as follows: (1)
// If the underlying error is another *Error, and there is no Kind argument,
// the Kind is inherited from the *Error. (2) If the underlying error has
// method Timeout() bool, it is invoked, and if it returns true, the error's
// kind is set to Timeout. (3) If the underlying error has method
// Temporary() bool, it is invoked, and if it returns true, the error's kind
// is set to Temporary. (4) If the underlying error is context.Canceled,
// the error's kind is set to Canceled.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if e.Op == "" {
				e.Op = arg
			} else {
				e.Arg = append(e.Arg, arg)
			}
		case Kind:
			e.Kind = arg
		case *Error:
			cp := *arg
			e.Err = &cp
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			return Errorf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, args)
		}
	}
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if prev.Kind == e.Kind {
			e.Kind = prev.Kind
			prev.Kind = Other
		} else if e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if prev.Op == "" && prev.Kind == Other {
			e.Err = prev.Err
		}
	default:
		if e.Kind != Other {
			break
		}
		switch err := e.Err.(type) {
		case interface{ Timeout() bool }:
			if err.Timeout() {
				e.Kind = Timeout
			}
		case interface{ Temporary() bool }:
			if err.Temporary() {
				e.Kind = Temporary
			}
		default:
			if err == context.Canceled {
				e.Kind = Canceled
			}
		}
	}
	return e
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}

// Error renders this error and its chain of underlying errors, separated
// by Separator.
func (e *Error) Error() string {
	return e.ErrorSeparator(Separator)
}

// ErrorSeparator renders this error and its chain of underlying errors,
// separated by sep.
func (e *Error) ErrorSeparator(sep string) string {
	if e == nil {
		return "<nil>"
	}
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
		for i := range e.Arg {
			b.WriteString(" " + e.Arg[i])
		}
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if err, ok := e.Err.(*Error); ok {
			pad(b, sep)
			b.WriteString(err.ErrorSeparator(sep))
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	return b.String()
}

// Timeout tells whether this error is a timeout error.
func (e *Error) Timeout() bool {
	return e.Kind == Timeout
}

// Temporary tells whether this error is temporary.
func (e *Error) Temporary() bool {
	return e.Kind == Temporary || e.Kind == Unavailable
}

// Errorf is an alternate spelling of fmt.Errorf.
var Errorf = fmt.Errorf

// New is an alternate spelling of errors.New.
var New = goerrors.New

// Recover recovers any error into an *Error. If the passed-in error is
// already an *Error, it is simply returned; otherwise it is wrapped.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if err, ok := err.(*Error); ok {
		return err
	}
	return E(err).(*Error)
}

// Copy creates a shallow copy of Error e.
func (e *Error) Copy() *Error {
	f := new(Error)
	*f = *e
	return f
}

// Match compares err1 with err2. If err1 has type Kind, Match reports
// whether err2's Kind is the same; otherwise Match checks that every
// nonempty field in err1 has the same value in err2. If err1 is an *Error
// with a non-nil Err field, Match recurs to check that the two errors'
// chains of underlying errors also match.
func Match(err1 interface{}, err2 error) bool {
	e2 := Recover(err2)
	switch e1 := err1.(type) {
	default:
		return false
	case Kind:
		return e1 == e2.Kind
	case *Error:
		if e1.Op != "" && e2.Op != e1.Op {
			return false
		}
		if len(e1.Arg) != len(e2.Arg) {
			return false
		}
		for i := range e1.Arg {
			if e1.Arg[i] != e2.Arg[i] {
				return false
			}
		}
		if e1.Kind != Other && e2.Kind != e1.Kind {
			return false
		}
		if e1.Err != nil {
			if _, ok := e1.Err.(*Error); ok {
				return Match(e1.Err, e2.Err)
			}
			if e2.Err == nil || e2.Err.Error() != e1.Err.Error() {
				return false
			}
		}
		return true
	}
}

// Transient tells whether error err is likely transient, and thus may be
// usefully retried -- e.g. a steal request that should be reissued against
// a different victim.
func Transient(err error) bool {
	switch Recover(err).Kind {
	case Canceled, Timeout, Temporary, TooManyTries, Unavailable:
		return true
	default:
		return false
	}
}
