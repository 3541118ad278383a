// Package issuer wraps the external authority that mints credentials.
package issuer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies an issuance failure.
type Kind int

const (
	// Rejected: the authority declined. Not retried.
	Rejected Kind = iota + 1
	// Unavailable: transient failure. Retried with backoff.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Rejected:
		return "rejected"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Error is the only error type Issue returns.
type Error struct {
	Kind   Kind
	Op     string
	Status int // HTTP status when the authority answered, else 0
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("issuer %s %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("issuer %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func rejected(op string, status int, err error) *Error {
	return &Error{Kind: Rejected, Op: op, Status: status, Err: err}
}

func unavailable(op string, status int, err error) *Error {
	return &Error{Kind: Unavailable, Op: op, Status: status, Err: err}
}

// KindOf classifies err. Anything that is not an *Error, including context
// deadlines, counts as Unavailable.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return Unavailable
}

var (
	ErrUnknownEvent   = errors.New("event is not configured for issuance")
	ErrCodesExhausted = errors.New("event has run out of claim codes")

	// ErrClaimUnconfirmed marks a code whose claim got no answer and that
	// now belongs to someone else.
	ErrClaimUnconfirmed = errors.New("unanswered claim could not be confirmed for the wallet")
)

// Issuer mints one credential for wallet at eventID and returns its
// reference.
type Issuer interface {
	Issue(ctx context.Context, wallet, eventID string) (string, error)
}

// CodeCounter reports how many claim codes remain for an event.
type CodeCounter interface {
	RemainingCodes(ctx context.Context, eventID string) (int, error)
}

// EventValidator checks an event's issuance credentials with the authority.
type EventValidator interface {
	ValidateEvent(ctx context.Context, eventID string) error
}

// MintStatus is the authority's view of a queued mint.
type MintStatus struct {
	UID       string `json:"uid"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash,omitempty"`
}

// MintStatusReader looks up a queued mint by its uid.
type MintStatusReader interface {
	MintStatus(ctx context.Context, uid string) (MintStatus, error)
}

// DryRun issues synthetic references without calling anything. It backs
// dev environments and rehearsal runs of batch jobs.
type DryRun struct{}

func (DryRun) Issue(_ context.Context, wallet, eventID string) (string, error) {
	return "dry-run-" + uuid.NewString(), nil
}
