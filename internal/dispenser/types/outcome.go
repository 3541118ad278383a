package types

// State is a step of the verify-and-issue state machine.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateProbing    State = "PROBING"
	StateEvaluating State = "EVALUATING"
	StateClaiming   State = "CLAIMING"
	StateIssuing    State = "ISSUING"

	StateIssued        State = "ISSUED"
	StateRejected      State = "REJECTED"
	StateAlreadyIssued State = "ALREADY_ISSUED"
	StateIneligible    State = "INELIGIBLE"
	StateError         State = "ERROR"
)

func (s State) Terminal() bool {
	switch s {
	case StateIssued, StateRejected, StateAlreadyIssued, StateIneligible, StateError:
		return true
	}
	return false
}

// Outcome is the terminal payload returned to callers of verify-and-issue.
type Outcome struct {
	OK            bool   `json:"ok"`
	State         State  `json:"state"`
	Reason        Reason `json:"reason"`
	WalletAddress string `json:"wallet_address"`
	EventID       string `json:"event_id"`
	CredentialRef string `json:"credential_ref,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	Detail        string `json:"detail,omitempty"`
	// TimedOut marks ERROR outcomes caused by a deadline or a pending wait
	// that did not converge.
	TimedOut   bool   `json:"timed_out,omitempty"`
	ServerTime string `json:"server_time"`
}

// EligibilityResponse answers the read-only eligibility check.
type EligibilityResponse struct {
	OK            bool   `json:"ok"`
	Eligible      bool   `json:"eligible"`
	Reason        Reason `json:"reason"`
	WalletAddress string `json:"wallet_address"`
	EventID       string `json:"event_id"`
	TxHash        string `json:"tx_hash,omitempty"`
	Detail        string `json:"detail,omitempty"`
	ServerTime    string `json:"server_time"`
}

// CollectorResponse answers the collector status query.
type CollectorResponse struct {
	OK            bool            `json:"ok"`
	HasCollected  bool            `json:"has_collected"`
	Status        CollectorStatus `json:"status"`
	WalletAddress string          `json:"wallet_address"`
	EventID       string          `json:"event_id"`
	CredentialRef string          `json:"credential_ref,omitempty"`
	ServerTime    string          `json:"server_time"`
}
