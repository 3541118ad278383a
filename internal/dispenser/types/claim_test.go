package types_test

import (
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

func TestNewClaim_NormalisesWallet(t *testing.T) {
	now := time.Date(2023, 11, 14, 9, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	c, err := types.NewClaim(types.IssueRequest{
		WalletAddress: " 0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed ",
		EventID:       " devcon-2023 ",
	}, now)
	if err != nil {
		t.Fatalf("NewClaim: %v", err)
	}
	if c.WalletAddress != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Errorf("expected checksum address, got %q", c.WalletAddress)
	}
	if c.EventID != "devcon-2023" {
		t.Errorf("expected trimmed event id, got %q", c.EventID)
	}
	if c.SubmittedAt.Location() != time.UTC {
		t.Errorf("expected UTC submitted_at, got %v", c.SubmittedAt.Location())
	}
}

func TestNewClaim_Rejects(t *testing.T) {
	cases := []struct {
		name string
		req  types.IssueRequest
		want error
	}{
		{"empty event", types.IssueRequest{WalletAddress: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}, types.ErrInvalidEventID},
		{"empty wallet", types.IssueRequest{EventID: "e"}, types.ErrInvalidWallet},
		{"no prefix", types.IssueRequest{WalletAddress: "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", EventID: "e"}, types.ErrInvalidWallet},
		{"short", types.IssueRequest{WalletAddress: "0xAA", EventID: "e"}, types.ErrInvalidWallet},
		{"ens", types.IssueRequest{WalletAddress: "vitalik.eth", EventID: "e"}, types.ErrInvalidWallet},
		{"zero", types.IssueRequest{WalletAddress: "0x0000000000000000000000000000000000000000", EventID: "e"}, types.ErrInvalidWallet},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := types.NewClaim(tc.req, time.Now())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSameAddress(t *testing.T) {
	if !types.SameAddress("0xABCdef", "0xabcDEF") {
		t.Error("expected case-insensitive match")
	}
	if types.SameAddress("", "") {
		t.Error("expected empty addresses never to match")
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := []types.State{types.StateIssued, types.StateRejected, types.StateAlreadyIssued, types.StateIneligible, types.StateError}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s terminal", s)
		}
	}
	for _, s := range []types.State{types.StateReceived, types.StateProbing, types.StateEvaluating, types.StateClaiming, types.StateIssuing} {
		if s.Terminal() {
			t.Errorf("expected %s non-terminal", s)
		}
	}
}
