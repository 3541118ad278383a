package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/eligibility"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/ledger"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

var ErrUnknownEvent = errors.New("event is not configured")

// Event is one issuable event: its qualifying rules plus how to query the
// ledger for it.
type Event struct {
	ID     string
	Rules  eligibility.Rules
	Policy eligibility.Policy // nil means TransactionPolicy

	FromBlock    uint64
	ToBlock      uint64
	LogSignature string
	WalletTopic  int
}

func (e Event) policy() eligibility.Policy {
	if e.Policy == nil {
		return eligibility.TransactionPolicy{}
	}
	return e.Policy
}

func (e Event) query(c types.ParticipationClaim) ledger.Query {
	return ledger.Query{
		WalletAddress: c.WalletAddress,
		EventID:       c.EventID,
		Contract:      e.Rules.Contract,
		WindowStart:   e.Rules.WindowStart,
		WindowEnd:     e.Rules.WindowEnd,
		FromBlock:     e.FromBlock,
		ToBlock:       e.ToBlock,
		LogSignature:  e.LogSignature,
		WalletTopic:   e.WalletTopic,
	}
}

// Catalog is the immutable set of configured events.
type Catalog struct {
	events map[string]Event
	ids    []string
}

func NewCatalog(events ...Event) (*Catalog, error) {
	c := &Catalog{events: make(map[string]Event, len(events))}
	for _, e := range events {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			return nil, types.ErrInvalidEventID
		}
		if _, dup := c.events[e.ID]; dup {
			return nil, fmt.Errorf("duplicate event %q", e.ID)
		}
		c.events[e.ID] = e
		c.ids = append(c.ids, e.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

func (c *Catalog) Lookup(id string) (Event, error) {
	e, ok := c.events[strings.TrimSpace(id)]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	return e, nil
}

// IDs returns the configured event ids in sorted order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}
