// Package ledger queries external chain data for participation evidence.
// Wire formats stay inside this package; callers only see types.Evidence.
package ledger

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// ErrMalformed marks a response the probe could not interpret.
var ErrMalformed = errors.New("malformed ledger response")

// Query parameterises one probe call.
type Query struct {
	WalletAddress string
	EventID       string
	Contract      string

	WindowStart time.Time
	WindowEnd   time.Time

	// FromBlock and ToBlock bound the scan. Zero means the adapter default
	// (genesis and latest respectively).
	FromBlock uint64
	ToBlock   uint64

	// LogSignature and WalletTopic are used by the log-based probe: the
	// event signature, e.g. "Transfer(address,address,uint256)", and the
	// indexed topic position (1-3) that holds the wallet.
	LogSignature string
	WalletTopic  int
}

// Probe answers whether a wallet performed the qualifying action. A failed
// or undecodable query is an error; it is never reported as "not found".
// Probes do not retry.
type Probe interface {
	Probe(ctx context.Context, q Query) (types.Evidence, error)
}

// NewHTTPClient returns the traced client adapters use when none is given.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func evidenceFor(q Query, txs []types.Transaction) types.Evidence {
	return types.Evidence{
		WalletAddress: q.WalletAddress,
		EventID:       q.EventID,
		Found:         len(txs) > 0,
		Transactions:  txs,
	}
}
