// Package service runs the verify-and-issue state machine and the read-side
// queries over the issuance store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/issuer"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/ledger"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
	"github.com/BrandonDHaskell/poap-dispenser/internal/observability"
)

const tracerName = "github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/service"

var (
	errStillPending   = errors.New("claim still pending elsewhere")
	errNotYetEligible = errors.New("no qualifying transaction yet")
)

// finalizeRetry covers transient store failures after issuance. A
// consistency error is never retried.
var finalizeRetry = ExponentialPolicy(3, 100*time.Millisecond, time.Second)

// CoordinatorConfig holds the retry bounds and per-call timeouts. A zero
// timeout means no per-call deadline.
type CoordinatorConfig struct {
	ProbeRetry   RetryPolicy
	ProbeTimeout time.Duration

	IssueRetry   RetryPolicy
	IssueTimeout time.Duration

	// PendingWait re-runs the claim while another attempt holds the key.
	PendingWait RetryPolicy

	// EligibilityWait re-probes a request that asked to wait while no
	// qualifying transaction is visible yet.
	EligibilityWait RetryPolicy

	StoreTimeout time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ProbeRetry:   ExponentialPolicy(3, 250*time.Millisecond, 2*time.Second),
		ProbeTimeout: 10 * time.Second,
		IssueRetry:   ExponentialPolicy(3, 500*time.Millisecond, 4*time.Second),
		IssueTimeout: 15 * time.Second,
		PendingWait:  ExponentialPolicy(5, 200*time.Millisecond, 2*time.Second),
		StoreTimeout: 5 * time.Second,

		EligibilityWait: PollPolicy(90*time.Second, 10*time.Second),
	}
}

// CoordinatorDeps are the collaborators of a Coordinator. Decisions,
// Logger, Metrics, Now and Sleep are optional.
type CoordinatorDeps struct {
	Catalog   *Catalog
	Probe     ledger.Probe
	Issuer    issuer.Issuer
	Dedup     *Deduplicator
	Decisions store.DecisionLog
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Now       func() time.Time
	Sleep     SleepFunc
}

// Coordinator drives one request through
// RECEIVED → PROBING → EVALUATING → CLAIMING → ISSUING → terminal.
type Coordinator struct {
	catalog   *Catalog
	probe     ledger.Probe
	issuer    issuer.Issuer
	dedup     *Deduplicator
	decisions store.DecisionLog
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	now       func() time.Time
	sleep     SleepFunc
	cfg       CoordinatorConfig
}

func NewCoordinator(deps CoordinatorDeps, cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		catalog:   deps.Catalog,
		probe:     deps.Probe,
		issuer:    deps.Issuer,
		dedup:     deps.Dedup,
		decisions: deps.Decisions,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer(tracerName),
		now:       deps.Now,
		sleep:     deps.Sleep,
		cfg:       cfg,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// request tracks one pass through the state machine.
type request struct {
	claim  types.ParticipationClaim
	event  Event
	state  types.State
	wait   bool
	logger *slog.Logger
}

func (r *request) advance(to types.State) {
	r.logger.Debug("state transition", "from", string(r.state), "to", string(to))
	r.state = to
}

type result struct {
	state    types.State
	reason   types.Reason
	ok       bool
	ref      string
	txHash   string
	detail   string
	timedOut bool
}

// VerifyAndIssue checks the wallet's participation and, when eligible,
// issues the credential at most once per (wallet, event).
//
// With WaitForEligibility set, a wallet without a qualifying transaction is
// re-probed under CoordinatorConfig.EligibilityWait before it is declared
// ineligible.
//
// Validation failures return types.ErrInvalidWallet, types.ErrInvalidEventID
// or ErrUnknownEvent. Every decision the state machine reaches is an
// Outcome with a nil error; a non-nil error past validation means the
// issuance store failed and the outcome is unknown to the caller.
func (c *Coordinator) VerifyAndIssue(ctx context.Context, req types.IssueRequest) (types.Outcome, error) {
	r, err := c.newRequest(req.WalletAddress, req.EventID)
	if err != nil {
		return types.Outcome{}, err
	}
	r.wait = req.WaitForEligibility

	ctx, span := c.tracer.Start(ctx, "dispenser.verify_and_issue", trace.WithAttributes(
		attribute.String("dispenser.event_id", r.claim.EventID),
		attribute.String("dispenser.wallet", r.claim.WalletAddress),
		attribute.Bool("dispenser.wait", r.wait),
	))
	defer span.End()

	out, err := c.handle(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.Outcome{}, err
	}
	span.SetAttributes(
		attribute.String("dispenser.state", string(out.State)),
		attribute.String("dispenser.reason", string(out.Reason)),
	)
	return out, nil
}

func (c *Coordinator) newRequest(wallet, eventID string) (*request, error) {
	claim, err := types.NewClaim(types.IssueRequest{WalletAddress: wallet, EventID: eventID}, c.now())
	if err != nil {
		return nil, err
	}
	ev, err := c.catalog.Lookup(claim.EventID)
	if err != nil {
		return nil, err
	}
	r := &request{
		claim:  claim,
		event:  ev,
		state:  types.StateReceived,
		logger: c.logger.With("event_id", claim.EventID, "wallet", claim.WalletAddress),
	}
	return r, nil
}

func (c *Coordinator) handle(ctx context.Context, r *request) (types.Outcome, error) {
	verdict, timedOut := c.evaluate(ctx, r)
	if !verdict.Eligible {
		if verdict.Reason == types.ReasonProbeError {
			return c.finish(ctx, r, result{
				state:    types.StateError,
				reason:   types.ReasonProbeError,
				detail:   verdict.Detail,
				timedOut: timedOut,
			}), nil
		}
		return c.finish(ctx, r, result{
			state:  types.StateIneligible,
			reason: verdict.Reason,
			detail: verdict.Detail,
		}), nil
	}

	// Nothing has been written yet, so a departed caller can simply stop.
	if err := ctx.Err(); err != nil {
		return types.Outcome{}, err
	}
	// Past this point the request may own a PENDING record. Store and
	// issuer calls run detached so cancellation cannot strand it.
	detached := context.WithoutCancel(ctx)

	r.advance(types.StateClaiming)
	claimed, err := c.claim(ctx, detached, r)
	if err != nil {
		c.recordStoreFailure(detached, r, err)
		return types.Outcome{}, err
	}
	switch claimed.State {
	case types.AlreadyIssued:
		return c.finish(detached, r, result{
			state:  types.StateAlreadyIssued,
			reason: types.ReasonAlreadyIssued,
			ok:     true,
			ref:    claimed.Record.CredentialRef,
			txHash: verdict.TxHash,
		}), nil
	case types.AlreadyPending:
		return c.finish(detached, r, result{
			state:    types.StateError,
			reason:   types.ReasonAlreadyPending,
			detail:   "another issuance attempt for this wallet and event is still in flight",
			timedOut: true,
		}), nil
	}

	r.advance(types.StateIssuing)
	ref, attempts, issueErr := c.issue(detached, r)

	fin := types.Issued(ref)
	res := result{
		state:  types.StateIssued,
		reason: types.ReasonQualifyingTxFound,
		ok:     true,
		ref:    ref,
		txHash: verdict.TxHash,
		detail: verdict.Detail,
	}
	if issueErr != nil {
		fin = types.Failed(issueErr.Error())
		if issuer.KindOf(issueErr) == issuer.Rejected {
			res = result{
				state:  types.StateRejected,
				reason: types.ReasonIssuerRejected,
				txHash: verdict.TxHash,
				detail: issueErr.Error(),
			}
		} else {
			res = result{
				state:    types.StateError,
				reason:   types.ReasonIssuerUnavailable,
				txHash:   verdict.TxHash,
				detail:   fmt.Sprintf("issuer unavailable after %d attempts: %v", attempts, issueErr),
				timedOut: isTimeout(issueErr),
			}
		}
	}

	if err := c.finalize(detached, r, claimed.Record.AttemptID, fin); err != nil {
		c.recordStoreFailure(detached, r, err)
		return types.Outcome{}, err
	}
	return c.finish(detached, r, res), nil
}

// CheckEligibility probes and evaluates without claiming or issuing.
func (c *Coordinator) CheckEligibility(ctx context.Context, wallet, eventID string) (types.EligibilityResponse, error) {
	r, err := c.newRequest(wallet, eventID)
	if err != nil {
		return types.EligibilityResponse{}, err
	}

	ctx, span := c.tracer.Start(ctx, "dispenser.check_eligibility", trace.WithAttributes(
		attribute.String("dispenser.event_id", r.claim.EventID),
		attribute.String("dispenser.wallet", r.claim.WalletAddress),
	))
	defer span.End()

	r.advance(types.StateProbing)
	evidence, _ := c.gatherEvidence(ctx, r)
	r.advance(types.StateEvaluating)
	v := r.event.policy().Evaluate(evidence, r.event.Rules)
	span.SetAttributes(attribute.String("dispenser.reason", string(v.Reason)))

	return types.EligibilityResponse{
		OK:            v.Reason != types.ReasonProbeError,
		Eligible:      v.Eligible,
		Reason:        v.Reason,
		WalletAddress: r.claim.WalletAddress,
		EventID:       r.claim.EventID,
		TxHash:        v.TxHash,
		Detail:        v.Detail,
		ServerTime:    c.now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// evaluate probes the ledger and applies the event policy. A waiting request
// repeats both under EligibilityWait while the verdict is NO_QUALIFYING_TX;
// probe errors and out-of-window verdicts end the wait at once.
func (c *Coordinator) evaluate(ctx context.Context, r *request) (types.Verdict, bool) {
	policy := NoRetry
	if r.wait {
		policy = c.cfg.EligibilityWait
	}

	var verdict types.Verdict
	var timedOut bool
	attempts, _ := policy.run(ctx, c.sleep,
		func(err error) bool { return errors.Is(err, errNotYetEligible) && ctx.Err() == nil },
		func(attempt int) error {
			r.advance(types.StateProbing)
			var evidence types.Evidence
			evidence, timedOut = c.gatherEvidence(ctx, r)

			r.advance(types.StateEvaluating)
			verdict = r.event.policy().Evaluate(evidence, r.event.Rules)
			if !verdict.Eligible && verdict.Reason == types.ReasonNoQualifyingTx {
				return errNotYetEligible
			}
			return nil
		})
	if r.wait {
		r.logger.Debug("eligibility wait done", "attempts", attempts, "eligible", verdict.Eligible, "reason", string(verdict.Reason))
	}
	return verdict, timedOut
}

// gatherEvidence runs the probe under the probe retry policy. On failure it
// returns evidence with Err set and whether the last failure was a timeout.
func (c *Coordinator) gatherEvidence(ctx context.Context, r *request) (types.Evidence, bool) {
	q := r.event.query(r.claim)

	var evidence types.Evidence
	attempts, err := c.cfg.ProbeRetry.run(ctx, c.sleep,
		func(error) bool { return ctx.Err() == nil },
		func(attempt int) error {
			pctx, cancel := withTimeout(ctx, c.cfg.ProbeTimeout)
			defer cancel()
			pctx, span := c.tracer.Start(pctx, "dispenser.probe", trace.WithAttributes(attribute.Int("attempt", attempt)))
			defer span.End()

			start := time.Now()
			ev, err := c.probe.Probe(pctx, q)
			c.metrics.ObserveCall("probe", callResult(err), time.Since(start))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "probe failed")
				r.logger.Warn("ledger probe failed", "attempt", attempt, "err", err)
				return err
			}
			evidence = ev
			return nil
		})
	if err != nil {
		return types.ProbeFailure(r.claim, fmt.Errorf("probe failed after %d attempts: %w", attempts, err)), isTimeout(err)
	}
	return evidence, false
}

// claim runs TryClaim under the pending-wait policy. Sleeps between
// attempts end early when the caller goes away; the store calls themselves
// run on the detached context.
func (c *Coordinator) claim(ctx, detached context.Context, r *request) (types.ClaimResult, error) {
	var res types.ClaimResult
	_, err := c.cfg.PendingWait.run(ctx, c.sleep,
		func(err error) bool { return errors.Is(err, errStillPending) },
		func(attempt int) error {
			sctx, cancel := withTimeout(detached, c.cfg.StoreTimeout)
			defer cancel()

			var err error
			res, err = c.dedup.TryClaim(sctx, r.claim.Key(), c.now())
			if err != nil {
				return err
			}
			if res.State == types.AlreadyPending {
				r.logger.Debug("key pending in another attempt", "attempt", attempt)
				return errStillPending
			}
			return nil
		})
	if errors.Is(err, errStillPending) {
		return res, nil
	}
	return res, err
}

// issue calls the issuer, retrying only Unavailable failures.
func (c *Coordinator) issue(ctx context.Context, r *request) (string, int, error) {
	var ref string
	attempts, err := c.cfg.IssueRetry.run(ctx, c.sleep,
		func(err error) bool { return issuer.KindOf(err) == issuer.Unavailable },
		func(attempt int) error {
			ictx, cancel := withTimeout(ctx, c.cfg.IssueTimeout)
			defer cancel()
			ictx, span := c.tracer.Start(ictx, "dispenser.issue", trace.WithAttributes(attribute.Int("attempt", attempt)))
			defer span.End()

			start := time.Now()
			got, err := c.issuer.Issue(ictx, r.claim.WalletAddress, r.claim.EventID)
			if err != nil {
				c.metrics.ObserveCall("issue", issuer.KindOf(err).String(), time.Since(start))
				span.RecordError(err)
				span.SetStatus(codes.Error, "issue failed")
				r.logger.Warn("issuer call failed", "attempt", attempt, "kind", issuer.KindOf(err).String(), "err", err)
				return err
			}
			c.metrics.ObserveCall("issue", "ok", time.Since(start))
			ref = got
			return nil
		})
	return ref, attempts, err
}

func (c *Coordinator) finalize(ctx context.Context, r *request, attemptID string, fin types.Finalization) error {
	_, err := finalizeRetry.run(ctx, c.sleep,
		func(err error) bool { return !errors.Is(err, store.ErrConsistency) },
		func(attempt int) error {
			fctx, cancel := withTimeout(ctx, c.cfg.StoreTimeout)
			defer cancel()
			err := c.dedup.Finalize(fctx, r.claim.Key(), attemptID, fin, c.now())
			if err != nil && !errors.Is(err, store.ErrConsistency) {
				r.logger.Warn("finalize failed", "attempt", attempt, "status", string(fin.Status), "err", err)
			}
			return err
		})
	return err
}

func (c *Coordinator) finish(ctx context.Context, r *request, res result) types.Outcome {
	if !res.state.Terminal() {
		r.logger.Error("request finished in a non-terminal state", "state", string(res.state))
		res.state, res.ok = types.StateError, false
	}
	r.advance(res.state)
	now := c.now().UTC()

	level := slog.LevelInfo
	if res.state == types.StateError {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "verify-and-issue finished",
		"state", string(res.state),
		"reason", string(res.reason),
		"credential_ref", res.ref,
		"tx_hash", res.txHash,
		"detail", res.detail,
	)
	c.metrics.ObserveOutcome(r.claim.EventID, string(res.state), string(res.reason))

	c.recordDecision(ctx, r, store.DecisionRecord{
		WalletAddress: r.claim.WalletAddress,
		EventID:       r.claim.EventID,
		State:         res.state,
		Reason:        res.reason,
		TxHash:        res.txHash,
		CredentialRef: res.ref,
		Detail:        res.detail,
		DecidedAt:     now,
	})

	return types.Outcome{
		OK:            res.ok,
		State:         res.state,
		Reason:        res.reason,
		WalletAddress: r.claim.WalletAddress,
		EventID:       r.claim.EventID,
		CredentialRef: res.ref,
		TxHash:        res.txHash,
		Detail:        res.detail,
		TimedOut:      res.timedOut,
		ServerTime:    now.Format(time.RFC3339Nano),
	}
}

func (c *Coordinator) recordStoreFailure(ctx context.Context, r *request, err error) {
	r.advance(types.StateError)
	r.logger.Error("issuance store failed", "err", err)
	c.metrics.ObserveOutcome(r.claim.EventID, string(types.StateError), string(types.ReasonStoreError))
	c.recordDecision(ctx, r, store.DecisionRecord{
		WalletAddress: r.claim.WalletAddress,
		EventID:       r.claim.EventID,
		State:         types.StateError,
		Reason:        types.ReasonStoreError,
		Detail:        err.Error(),
		DecidedAt:     c.now().UTC(),
	})
}

// recordDecision appends to the audit log. A failed write is logged and
// does not change the outcome.
func (c *Coordinator) recordDecision(ctx context.Context, r *request, rec store.DecisionRecord) {
	if c.decisions == nil {
		return
	}
	dctx, cancel := withTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer cancel()
	if err := c.decisions.RecordDecision(dctx, rec); err != nil {
		r.logger.Warn("decision log write failed", "err", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isTimeout(err):
		return "timeout"
	}
	return "error"
}
