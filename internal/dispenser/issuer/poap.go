package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultPOAPURL      = "https://api.poap.tech/"
	DefaultPOAPTokenURL = "https://poapauth.auth0.com/oauth/token"
	DefaultPOAPAudience = "poap-api"

	maxPOAPBody = 1 << 20
)

// POAPEvent maps a dispenser event to its POAP drop.
type POAPEvent struct {
	EventID     string // dispenser event id
	POAPEventID int
	Secret      string // edit/secret code of the drop
}

type POAPConfig struct {
	BaseURL      string
	APIKey       string
	ClientID     string
	ClientSecret string
	Audience     string
	TokenURL     string
	Events       []POAPEvent

	// HTTPClient is the base client; nil gets a traced default.
	HTTPClient *http.Client
}

// POAP mints by claiming pre-generated QR codes of a drop on behalf of the
// wallet. Unclaimed codes are cached per event and refilled when empty.
type POAP struct {
	baseURL string
	apiKey  string
	authed  *http.Client // bearer token from client credentials
	public  *http.Client

	events map[string]POAPEvent

	mu    sync.Mutex
	pools map[string][]string

	// inflight maps event|wallet to a code whose claim got no answer.
	inflight map[string]string
}

func NewPOAP(cfg POAPConfig) *POAP {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPOAPURL
	}

	authed := base
	if cfg.ClientID != "" {
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tokenURL = DefaultPOAPTokenURL
		}
		audience := cfg.Audience
		if audience == "" {
			audience = DefaultPOAPAudience
		}
		cc := clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       tokenURL,
			EndpointParams: url.Values{"audience": {audience}},
			AuthStyle:      oauth2.AuthStyleInParams,
		}
		// The token source caches the token and refreshes it before expiry.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		authed = cc.Client(ctx)
		authed.Timeout = base.Timeout
	}

	events := make(map[string]POAPEvent, len(cfg.Events))
	for _, e := range cfg.Events {
		events[e.EventID] = e
	}

	return &POAP{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/",
		apiKey:  cfg.APIKey,
		authed:  authed,
		public:  base,
		events:  events,
		pools:   make(map[string][]string),

		inflight: make(map[string]string),
	}
}

type qrCode struct {
	QRHash  string `json:"qr_hash"`
	Claimed bool   `json:"claimed"`
}

type claimInfo struct {
	Claimed     bool   `json:"claimed"`
	Secret      string `json:"secret"`
	Beneficiary string `json:"beneficiary"`
	Event       struct {
		ID json.Number `json:"id"`
	} `json:"event"`
}

type claimResponse struct {
	QRHash   string `json:"qr_hash"`
	QueueUID string `json:"queue_uid"`
}

// Issue claims one unclaimed code of the drop for wallet. The reference is
// the mint queue uid, or the QR hash when the authority returns none.
//
// A claim that went unanswered stays pinned to the wallet. The next call
// settles that code before any other code is spent.
func (p *POAP) Issue(ctx context.Context, wallet, eventID string) (string, error) {
	ev, ok := p.events[eventID]
	if !ok {
		return "", rejected("issue", 0, ErrUnknownEvent)
	}

	key := inflightKey(eventID, wallet)
	if hash, ok := p.inflightHash(key); ok {
		return p.settle(ctx, ev, key, wallet, hash)
	}

	refilled := false
	for {
		hash, ok := p.pop(eventID)
		if !ok {
			if refilled {
				return "", rejected("issue", 0, ErrCodesExhausted)
			}
			if _, err := p.refill(ctx, ev); err != nil {
				return "", err
			}
			refilled = true
			continue
		}

		info, err := p.readClaim(ctx, ev, hash)
		if err != nil {
			if KindOf(err) == Unavailable {
				p.push(eventID, hash)
			}
			return "", err
		}
		if info.Claimed {
			if sameWallet(info.Beneficiary, wallet) {
				return "qr:" + hash, nil
			}
			continue
		}
		return p.claim(ctx, ev, key, wallet, hash, info.Secret)
	}
}

// settle resolves a code whose claim for wallet got no answer. An unclaimed
// code is claimed again; a code claimed by wallet is the credential; any
// other owner fails without touching another code.
func (p *POAP) settle(ctx context.Context, ev POAPEvent, key, wallet, hash string) (string, error) {
	info, err := p.readClaim(ctx, ev, hash)
	if err != nil {
		if KindOf(err) == Rejected {
			p.clearInflight(key)
		}
		return "", err
	}
	if !info.Claimed {
		return p.claim(ctx, ev, key, wallet, hash, info.Secret)
	}
	p.clearInflight(key)
	if sameWallet(info.Beneficiary, wallet) {
		return "qr:" + hash, nil
	}
	return "", rejected("claim-qr", 0, fmt.Errorf("%w: code %s", ErrClaimUnconfirmed, hash))
}

func (p *POAP) readClaim(ctx context.Context, ev POAPEvent, hash string) (claimInfo, error) {
	var info claimInfo
	if err := p.do(ctx, p.authed, http.MethodGet, "actions/claim-qr?qr_hash="+url.QueryEscape(hash), nil, &info); err != nil {
		return claimInfo{}, err
	}
	if got, _ := strconv.Atoi(info.Event.ID.String()); got != ev.POAPEventID {
		return claimInfo{}, rejected("claim-qr", 0, fmt.Errorf("code %s belongs to drop %s, expected %d", hash, info.Event.ID, ev.POAPEventID))
	}
	return info, nil
}

func (p *POAP) claim(ctx context.Context, ev POAPEvent, key, wallet, hash, secret string) (string, error) {
	raw, err := p.doRaw(ctx, p.authed, http.MethodPost, "actions/claim-qr", map[string]string{
		"address": wallet,
		"qr_hash": hash,
		"secret":  secret,
	})
	if err != nil {
		if KindOf(err) == Unavailable {
			// The claim may have landed upstream.
			p.setInflight(key, hash)
		} else {
			p.clearInflight(key)
		}
		return "", err
	}
	p.clearInflight(key)
	// A 2xx means the code is spent even if the body is unreadable.
	var out claimResponse
	if json.Unmarshal(raw, &out) == nil && out.QueueUID != "" {
		return out.QueueUID, nil
	}
	return "qr:" + hash, nil
}

// RemainingCodes refreshes the pool from the authority and returns its size.
func (p *POAP) RemainingCodes(ctx context.Context, eventID string) (int, error) {
	ev, ok := p.events[eventID]
	if !ok {
		return 0, rejected("qr-codes", 0, ErrUnknownEvent)
	}
	return p.refill(ctx, ev)
}

// ValidateEvent checks the drop id and secret with event/validate.
func (p *POAP) ValidateEvent(ctx context.Context, eventID string) error {
	ev, ok := p.events[eventID]
	if !ok {
		return rejected("validate", 0, ErrUnknownEvent)
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := p.do(ctx, p.authed, http.MethodPost, "event/validate", map[string]any{
		"event_id":    ev.POAPEventID,
		"secret_code": ev.Secret,
	}, &out); err != nil {
		return err
	}
	if !out.Valid {
		return rejected("validate", 0, fmt.Errorf("drop %d rejected its secret code", ev.POAPEventID))
	}
	return nil
}

// MintStatus reads queue-message/{uid}, which needs no bearer token.
func (p *POAP) MintStatus(ctx context.Context, uid string) (MintStatus, error) {
	var out struct {
		UID       string `json:"uid"`
		Operation string `json:"operation"`
		Status    string `json:"status"`
		Result    struct {
			TxHash string `json:"tx_hash"`
		} `json:"result"`
	}
	if err := p.do(ctx, p.public, http.MethodGet, "queue-message/"+url.PathEscape(uid), nil, &out); err != nil {
		return MintStatus{}, err
	}
	if out.Operation != "mintToken" {
		return MintStatus{}, rejected("queue-message", 0, fmt.Errorf("uid operation %q is not mintToken", out.Operation))
	}
	if out.UID == "" {
		out.UID = uid
	}
	return MintStatus{UID: out.UID, Operation: out.Operation, Status: out.Status, TxHash: out.Result.TxHash}, nil
}

func (p *POAP) refill(ctx context.Context, ev POAPEvent) (int, error) {
	var codes []qrCode
	route := fmt.Sprintf("event/%d/qr-codes", ev.POAPEventID)
	if err := p.do(ctx, p.authed, http.MethodPost, route, map[string]string{"secret_code": ev.Secret}, &codes); err != nil {
		return 0, err
	}
	unclaimed := make([]string, 0, len(codes))
	for _, c := range codes {
		if !c.Claimed && c.QRHash != "" {
			unclaimed = append(unclaimed, c.QRHash)
		}
	}

	p.mu.Lock()
	p.pools[ev.EventID] = unclaimed
	p.mu.Unlock()
	return len(unclaimed), nil
}

func (p *POAP) pop(eventID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool := p.pools[eventID]
	if len(pool) == 0 {
		return "", false
	}
	hash := pool[len(pool)-1]
	p.pools[eventID] = pool[:len(pool)-1]
	return hash, true
}

func (p *POAP) push(eventID, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[eventID] = append(p.pools[eventID], hash)
}

func inflightKey(eventID, wallet string) string {
	return eventID + "|" + strings.ToLower(strings.TrimSpace(wallet))
}

func (p *POAP) inflightHash(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hash, ok := p.inflight[key]
	return hash, ok
}

func (p *POAP) setInflight(key, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[key] = hash
}

func (p *POAP) clearInflight(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}

func sameWallet(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// do sends one request and decodes the JSON answer into out.
func (p *POAP) do(ctx context.Context, client *http.Client, method, route string, payload, out any) error {
	raw, err := p.doRaw(ctx, client, method, route, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return unavailable(opName(route), http.StatusOK, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func opName(route string) string {
	return strings.SplitN(route, "?", 2)[0]
}

// doRaw sends one request and returns the body of a 2xx answer. 429 and 5xx
// are Unavailable, other 4xx Rejected.
func (p *POAP) doRaw(ctx context.Context, client *http.Client, method, route string, payload any) ([]byte, error) {
	op := opName(route)

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, rejected(op, 0, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+route, body)
	if err != nil {
		return nil, rejected(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 && rerr.Response.StatusCode != http.StatusTooManyRequests {
			return nil, rejected("token", rerr.Response.StatusCode, err)
		}
		return nil, unavailable(op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPOAPBody))
	if err != nil {
		return nil, unavailable(op, resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, unavailable(op, resp.StatusCode, errors.New(apiMessage(raw)))
	case resp.StatusCode >= 400:
		return nil, rejected(op, resp.StatusCode, errors.New(apiMessage(raw)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, unavailable(op, resp.StatusCode, fmt.Errorf("unexpected status"))
	}

	return raw, nil
}

// apiMessage extracts the message field of a POAP error body.
func apiMessage(raw []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response"
	}
	return s
}
