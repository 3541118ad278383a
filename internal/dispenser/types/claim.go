package types

import (
	"strings"
	"time"
)

// IssueRequest is the inbound verify-and-issue payload.
type IssueRequest struct {
	WalletAddress string `json:"wallet_address"`
	EventID       string `json:"event_id"`

	// WaitForEligibility keeps re-probing for a bounded time when no
	// qualifying transaction is visible yet.
	WaitForEligibility bool `json:"wait_for_eligibility,omitempty"`
}

// ParticipationClaim is the validated, immutable form of an IssueRequest.
type ParticipationClaim struct {
	WalletAddress string // EIP-55 checksum form
	EventID       string
	SubmittedAt   time.Time
}

// NewClaim validates req and stamps it with submittedAt.
func NewClaim(req IssueRequest, submittedAt time.Time) (ParticipationClaim, error) {
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		return ParticipationClaim{}, ErrInvalidEventID
	}
	addr, err := ParseWallet(req.WalletAddress)
	if err != nil {
		return ParticipationClaim{}, err
	}
	return ParticipationClaim{
		WalletAddress: addr.Hex(),
		EventID:       eventID,
		SubmittedAt:   submittedAt.UTC(),
	}, nil
}

// Key returns the deduplication key of the claim.
func (c ParticipationClaim) Key() Key {
	return Key{WalletAddress: c.WalletAddress, EventID: c.EventID}
}

// Key identifies an issuance slot.
type Key struct {
	WalletAddress string
	EventID       string
}

func (k Key) String() string {
	return k.EventID + "/" + k.WalletAddress
}
