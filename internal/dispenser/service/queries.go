package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/issuer"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// ErrUnsupported is returned when the configured issuer lacks an optional
// capability.
var ErrUnsupported = errors.New("not supported by the configured issuer")

var ErrInvalidMintUID = errors.New("mint uid is required")

// ErrMintPending is returned by WaitMintStatus when the mint has no
// transaction hash by the end of the wait.
var ErrMintPending = errors.New("mint has no transaction hash yet")

// QueryConfig bounds the polling queries.
type QueryConfig struct {
	MintWait RetryPolicy
}

func DefaultQueryConfig() QueryConfig {
	return QueryConfig{MintWait: PollPolicy(60*time.Second, 2*time.Second)}
}

// QueryService answers the read-only questions about issuance.
type QueryService struct {
	catalog *Catalog
	dedup   *Deduplicator
	issuer  issuer.Issuer
	cfg     QueryConfig
	now     func() time.Time
	sleep   SleepFunc
}

func NewQueryService(cat *Catalog, dedup *Deduplicator, iss issuer.Issuer, cfg QueryConfig) *QueryService {
	return &QueryService{catalog: cat, dedup: dedup, issuer: iss, cfg: cfg, now: time.Now, sleep: sleepContext}
}

// CollectorStatus reports whether wallet holds, or is being issued, the
// credential of eventID.
func (q *QueryService) CollectorStatus(ctx context.Context, wallet, eventID string) (types.CollectorResponse, error) {
	claim, err := types.NewClaim(types.IssueRequest{WalletAddress: wallet, EventID: eventID}, q.now())
	if err != nil {
		return types.CollectorResponse{}, err
	}
	if _, err := q.catalog.Lookup(claim.EventID); err != nil {
		return types.CollectorResponse{}, err
	}

	status, rec, err := q.dedup.Status(ctx, claim.Key())
	if err != nil {
		return types.CollectorResponse{}, err
	}
	return types.CollectorResponse{
		OK:            true,
		HasCollected:  status == types.CollectorIssued,
		Status:        status,
		WalletAddress: claim.WalletAddress,
		EventID:       claim.EventID,
		CredentialRef: rec.CredentialRef,
		ServerTime:    q.now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// RemainingCodes asks the issuer how many claim codes are left.
func (q *QueryService) RemainingCodes(ctx context.Context, eventID string) (int, error) {
	ev, err := q.catalog.Lookup(eventID)
	if err != nil {
		return 0, err
	}
	counter, ok := q.issuer.(issuer.CodeCounter)
	if !ok {
		return 0, ErrUnsupported
	}
	return counter.RemainingCodes(ctx, ev.ID)
}

func (q *QueryService) MintStatus(ctx context.Context, uid string) (issuer.MintStatus, error) {
	uid, reader, err := q.mintReader(uid)
	if err != nil {
		return issuer.MintStatus{}, err
	}
	return reader.MintStatus(ctx, uid)
}

// WaitMintStatus polls the mint under QueryConfig.MintWait until it reports
// a transaction hash. Unavailable lookups are polled again and a rejected
// lookup ends the wait. When the wait runs out the last status seen is
// returned with ErrMintPending.
func (q *QueryService) WaitMintStatus(ctx context.Context, uid string) (issuer.MintStatus, error) {
	uid, reader, err := q.mintReader(uid)
	if err != nil {
		return issuer.MintStatus{}, err
	}

	var st issuer.MintStatus
	_, err = q.cfg.MintWait.run(ctx, q.sleep,
		func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return errors.Is(err, ErrMintPending) || issuer.KindOf(err) == issuer.Unavailable
		},
		func(int) error {
			got, err := reader.MintStatus(ctx, uid)
			if err != nil {
				return err
			}
			st = got
			if got.TxHash == "" {
				return ErrMintPending
			}
			return nil
		})
	return st, err
}

func (q *QueryService) mintReader(uid string) (string, issuer.MintStatusReader, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", nil, ErrInvalidMintUID
	}
	reader, ok := q.issuer.(issuer.MintStatusReader)
	if !ok {
		return "", nil, ErrUnsupported
	}
	return uid, reader, nil
}

func (q *QueryService) Records(ctx context.Context, filter types.RecordFilter) ([]types.IssuanceRecord, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", filter.Status)
	}
	return q.dedup.List(ctx, filter)
}

// ValidateEvents checks every configured event with the issuer, when it
// supports validation. Each failure is logged; the joined error is
// returned.
func (q *QueryService) ValidateEvents(ctx context.Context, logger *slog.Logger) error {
	v, ok := q.issuer.(issuer.EventValidator)
	if !ok {
		return nil
	}
	var errs []error
	for _, id := range q.catalog.IDs() {
		if err := v.ValidateEvent(ctx, id); err != nil {
			logger.Error("event failed issuer validation", "event_id", id, "err", err)
			errs = append(errs, fmt.Errorf("event %s: %w", id, err))
			continue
		}
		logger.Info("event validated with issuer", "event_id", id)
	}
	return errors.Join(errs...)
}
