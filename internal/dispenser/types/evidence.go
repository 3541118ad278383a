package types

import (
	"time"

	"github.com/holiman/uint256"
)

// Transaction is one on-chain observation returned by a ledger probe.
type Transaction struct {
	TxHash        string
	Target        string // contract or address the transaction touched
	ObservedAt    time.Time
	BlockNumber   uint64
	Confirmations uint64
	Value         *uint256.Int // nil when the source does not report a value
}

// Evidence is the result of a single ledger query. It lives for one request
// and is never cached: a negative answer is always recomputed.
type Evidence struct {
	WalletAddress string
	EventID       string
	Found         bool
	Transactions  []Transaction

	// Err is set when the ledger could not be queried. Evidence with Err set
	// never makes a wallet eligible.
	Err error
}

// ProbeFailure builds the evidence recorded when a probe errors out.
func ProbeFailure(claim ParticipationClaim, err error) Evidence {
	return Evidence{
		WalletAddress: claim.WalletAddress,
		EventID:       claim.EventID,
		Err:           err,
	}
}
