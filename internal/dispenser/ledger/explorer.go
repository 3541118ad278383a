package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

const maxExplorerBody = 8 << 20

// ExplorerProbe reads a wallet's normal transactions from an
// Etherscan-compatible explorer (module=account, action=txlist).
type ExplorerProbe struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewExplorerProbe builds a probe for baseURL, e.g.
// "https://api.etherscan.io/api". A nil client gets a traced default.
func NewExplorerProbe(baseURL, apiKey string, client *http.Client) *ExplorerProbe {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	return &ExplorerProbe{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTx struct {
	BlockNumber   string `json:"blockNumber"`
	TimeStamp     string `json:"timeStamp"`
	Hash          string `json:"hash"`
	From          string `json:"from"`
	To            string `json:"to"`
	Value         string `json:"value"`
	Confirmations string `json:"confirmations"`
	IsError       string `json:"isError"`
}

func (p *ExplorerProbe) Probe(ctx context.Context, q Query) (types.Evidence, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", q.WalletAddress)
	params.Set("startblock", strconv.FormatUint(q.FromBlock, 10))
	if q.ToBlock > 0 {
		params.Set("endblock", strconv.FormatUint(q.ToBlock, 10))
	} else {
		params.Set("endblock", "latest")
	}
	params.Set("sort", "asc")
	if p.apiKey != "" {
		params.Set("apikey", p.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return types.Evidence{}, fmt.Errorf("explorer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.Evidence{}, fmt.Errorf("explorer call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExplorerBody))
	if err != nil {
		return types.Evidence{}, fmt.Errorf("explorer read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Evidence{}, fmt.Errorf("explorer status %d", resp.StatusCode)
	}

	var env explorerResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return types.Evidence{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Status != "1" {
		// The explorer reports an empty history as status 0.
		if strings.Contains(strings.ToLower(env.Message), "no transactions found") {
			return evidenceFor(q, nil), nil
		}
		var reason string
		_ = json.Unmarshal(env.Result, &reason)
		return types.Evidence{}, fmt.Errorf("explorer error: %s %s", env.Message, reason)
	}

	var raw []explorerTx
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return types.Evidence{}, fmt.Errorf("%w: result: %v", ErrMalformed, err)
	}

	txs := make([]types.Transaction, 0, len(raw))
	for _, r := range raw {
		if r.IsError == "1" || !types.SameAddress(r.From, q.WalletAddress) {
			continue
		}
		tx, err := r.toTransaction()
		if err != nil {
			return types.Evidence{}, fmt.Errorf("%w: tx %s: %v", ErrMalformed, r.Hash, err)
		}
		txs = append(txs, tx)
	}
	return evidenceFor(q, txs), nil
}

func (r explorerTx) toTransaction() (types.Transaction, error) {
	ts, err := strconv.ParseInt(r.TimeStamp, 10, 64)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("timeStamp %q", r.TimeStamp)
	}
	block, err := strconv.ParseUint(r.BlockNumber, 10, 64)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("blockNumber %q", r.BlockNumber)
	}
	var confirmations uint64
	if r.Confirmations != "" {
		confirmations, err = strconv.ParseUint(r.Confirmations, 10, 64)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("confirmations %q", r.Confirmations)
		}
	}
	var value *uint256.Int
	if r.Value != "" {
		value, err = uint256.FromDecimal(r.Value)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("value %q", r.Value)
		}
	}
	return types.Transaction{
		TxHash:        r.Hash,
		Target:        r.To,
		ObservedAt:    time.Unix(ts, 0).UTC(),
		BlockNumber:   block,
		Confirmations: confirmations,
		Value:         value,
	}, nil
}
