package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BrandonDHaskell/poap-dispenser/internal/observability"
)

func TestNewLogger_RenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(&buf, observability.LogConfig{Service: "dispenser", Env: "dev", Level: "debug"})
	logger.Debug("transition", "from", "PROBING", "to", "EVALUATING")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, k := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[k]; !ok {
			t.Errorf("expected key %q in %v", k, line)
		}
	}
	if line["severity"] != "DEBUG" {
		t.Errorf("expected severity=DEBUG, got %v", line["severity"])
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(&buf, observability.LogConfig{Service: "dispenser"})
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected debug suppressed at info level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "bogus": slog.LevelInfo}
	for in, want := range cases {
		if got := observability.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *observability.Metrics
	m.ObserveOutcome("e", "ISSUED", "QUALIFYING_TX_FOUND")
	m.ObserveCall("probe", "ok", time.Millisecond)
	m.AddReconciled(3)
	m.IncConsistencyError()
	m.ObserveHTTP("/", "GET", "200", time.Millisecond)
}

func TestMetrics_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.ObserveOutcome("devcon-2023", "ISSUED", "QUALIFYING_TX_FOUND")
	m.ObserveOutcome("devcon-2023", "ISSUED", "QUALIFYING_TX_FOUND")
	m.AddReconciled(2)

	expected := `
# HELP poap_dispenser_reconciled_records_total Stale PENDING records moved to FAILED by the reconciler.
# TYPE poap_dispenser_reconciled_records_total counter
poap_dispenser_reconciled_records_total 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "poap_dispenser_reconciled_records_total"); err != nil {
		t.Fatal(err)
	}
	if n := testutil.CollectAndCount(reg, "poap_dispenser_outcomes_total"); n != 1 {
		t.Errorf("expected one outcome series, got %d", n)
	}
}

func TestInitTracing_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := observability.InitTracing(context.Background(), observability.TracingConfig{ServiceName: "dispenser"})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
