package types

import "time"

// Reason is a machine-readable explanation attached to verdicts and outcomes.
type Reason string

const (
	ReasonQualifyingTxFound Reason = "QUALIFYING_TX_FOUND"
	ReasonNoQualifyingTx    Reason = "NO_QUALIFYING_TX"
	ReasonOutOfWindow       Reason = "OUT_OF_WINDOW"
	ReasonProbeError        Reason = "PROBE_ERROR"

	ReasonAlreadyIssued     Reason = "ALREADY_ISSUED"
	ReasonAlreadyPending    Reason = "ALREADY_PENDING"
	ReasonIssuerRejected    Reason = "ISSUER_REJECTED"
	ReasonIssuerUnavailable Reason = "ISSUER_UNAVAILABLE"

	// ReasonStoreError is written to the decision log when the issuance
	// store failed mid-request. It never appears in an Outcome.
	ReasonStoreError Reason = "STORE_ERROR"
)

// Verdict is the eligibility decision for one piece of evidence.
type Verdict struct {
	Eligible   bool
	Reason     Reason
	TxHash     string
	ObservedAt time.Time
	Detail     string
}
