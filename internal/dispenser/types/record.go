package types

import "time"

// Status is the lifecycle state of an IssuanceRecord.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusIssued  Status = "ISSUED"
	StatusFailed  Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusIssued, StatusFailed:
		return true
	}
	return false
}

// IssuanceRecord is the one durable entity. Storage keeps a single row per
// (wallet, event); a FAILED row is re-claimed in place with a new AttemptID.
type IssuanceRecord struct {
	WalletAddress string
	EventID       string
	Status        Status
	CredentialRef string
	AttemptID     string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r IssuanceRecord) Key() Key {
	return Key{WalletAddress: r.WalletAddress, EventID: r.EventID}
}

// ClaimState is the answer of an atomic claim attempt.
type ClaimState int

const (
	Claimed ClaimState = iota
	AlreadyPending
	AlreadyIssued
)

func (s ClaimState) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case AlreadyPending:
		return "already_pending"
	case AlreadyIssued:
		return "already_issued"
	}
	return "unknown"
}

// ClaimResult carries the claim state and the record as it stands after the
// claim. For Claimed, Record.AttemptID is the token Finalize must present.
type ClaimResult struct {
	State  ClaimState
	Record IssuanceRecord
}

// Finalization is the terminal transition applied to a PENDING record.
type Finalization struct {
	Status        Status // StatusIssued or StatusFailed
	CredentialRef string
	Detail        string
}

// Issued builds an ISSUED finalization.
func Issued(ref string) Finalization {
	return Finalization{Status: StatusIssued, CredentialRef: ref}
}

// Failed builds a FAILED finalization.
func Failed(detail string) Finalization {
	return Finalization{Status: StatusFailed, Detail: detail}
}

// CollectorStatus is the read-side view of a key, NONE when no record exists.
type CollectorStatus string

const (
	CollectorNone    CollectorStatus = "NONE"
	CollectorPending CollectorStatus = "PENDING"
	CollectorIssued  CollectorStatus = "ISSUED"
	CollectorFailed  CollectorStatus = "FAILED"
)

// RecordFilter narrows record listings.
type RecordFilter struct {
	EventID string
	Status  Status
	Limit   int
}
