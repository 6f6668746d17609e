// Package errkind defines the worker runtime's error taxonomy: every
// sentinel and wrapped error constructed anywhere under worker/ carries one
// of these kinds so the superstep controller can branch on Kind() instead of
// matching error strings.
package errkind

import "golang.org/x/xerrors"

// Kind classifies a worker runtime error for the purposes of the error
// handling design: which errors retry locally, and which bubble up and
// abort the job.
type Kind int

const (
	// Unknown is the zero value; errors not constructed through this
	// package report Unknown.
	Unknown Kind = iota

	// InvalidInput marks a reader-produced vertex missing an id.
	InvalidInput

	// Deserialization marks a malformed request payload.
	Deserialization

	// IO marks a disk or network failure.
	IO

	// UserCompute marks an uncaught fault inside a user vertex program.
	UserCompute

	// ProtocolViolation marks an unknown request type or an out-of-order
	// frame.
	ProtocolViolation

	// CoordinationLost marks the external coordination service becoming
	// unreachable.
	CoordinationLost
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case Deserialization:
		return "deserialization"
	case IO:
		return "io"
	case UserCompute:
		return "user_compute"
	case ProtocolViolation:
		return "protocol_violation"
	case CoordinationLost:
		return "coordination_lost"
	default:
		return "unknown"
	}
}

// kindError pairs an error with a Kind so callers can recover it with As.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Kind() Kind    { return e.kind }

// New constructs an error of the given kind with the provided message.
func New(k Kind, msg string) error {
	return &kindError{kind: k, err: xerrors.New(msg)}
}

// Wrap annotates err with kind k, preserving err in the unwrap chain so
// xerrors.Is/As against the original sentinel still works.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: k, err: err}
}

// Of returns the Kind carried by err, walking the unwrap chain, or Unknown
// if none of the errors in the chain carry one.
func Of(err error) Kind {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			return ke.kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Unknown
}
