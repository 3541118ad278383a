package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// EventFile is the YAML event catalogue.
type EventFile struct {
	Events []Event `yaml:"events"`
}

// Event configures one issuable event.
type Event struct {
	ID          string `yaml:"id"`
	POAPEventID int    `yaml:"poap_event_id"`
	// SecretEnv names the environment variable holding the drop's secret
	// code, so secrets stay out of the file.
	SecretEnv string `yaml:"secret_env"`

	Contract         string    `yaml:"contract"`
	WindowStart      time.Time `yaml:"window_start"`
	WindowEnd        time.Time `yaml:"window_end"`
	MinConfirmations uint64    `yaml:"min_confirmations"`
	MinValueWei      string    `yaml:"min_value_wei"`
	MinTransactions  int       `yaml:"min_transactions"`
	Policy           string    `yaml:"policy"` // transaction | aggregate

	FromBlock    uint64 `yaml:"from_block"`
	ToBlock      uint64 `yaml:"to_block"`
	LogSignature string `yaml:"log_signature"`
	WalletTopic  int    `yaml:"wallet_topic"`
}

// LoadEvents reads, defaults and validates the catalogue at path.
func LoadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	var ef EventFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&ef); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	for i := range ef.Events {
		ef.Events[i].applyDefaults()
	}
	if err := ValidateEvents(ef.Events); err != nil {
		return nil, fmt.Errorf("validate events: %w", err)
	}
	return ef.Events, nil
}

func (e *Event) applyDefaults() {
	e.ID = strings.TrimSpace(e.ID)
	e.Contract = strings.TrimSpace(e.Contract)
	e.Policy = strings.ToLower(strings.TrimSpace(e.Policy))
	if e.Policy == "" {
		e.Policy = "transaction"
	}
	if e.MinTransactions <= 0 {
		e.MinTransactions = 1
	}
	if e.WalletTopic == 0 {
		e.WalletTopic = 1
	}
	if e.SecretEnv == "" && e.ID != "" {
		e.SecretEnv = "POAP_SECRET_" + envSuffix(e.ID)
	}
}

// Secret returns the drop secret from the environment.
func (e Event) Secret() string {
	return strings.TrimSpace(os.Getenv(e.SecretEnv))
}

// MinValue parses MinValueWei; empty means no threshold.
func (e Event) MinValue() (*uint256.Int, error) {
	if strings.TrimSpace(e.MinValueWei) == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(strings.TrimSpace(e.MinValueWei))
	if err != nil {
		return nil, fmt.Errorf("min_value_wei: %w", err)
	}
	return v, nil
}

func ValidateEvents(events []Event) error {
	if len(events) == 0 {
		return errors.New("at least one event is required")
	}
	seen := make(map[string]struct{}, len(events))
	var errs []error
	for i, e := range events {
		where := fmt.Sprintf("events[%d]", i)
		if e.ID != "" {
			where = fmt.Sprintf("event %q", e.ID)
		}
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else if _, dup := seen[e.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate id", where))
		}
		seen[e.ID] = struct{}{}

		if !common.IsHexAddress(e.Contract) {
			errs = append(errs, fmt.Errorf("%s: contract must be a hex address", where))
		}
		switch {
		case e.WindowStart.IsZero() || e.WindowEnd.IsZero():
			errs = append(errs, fmt.Errorf("%s: window_start and window_end are required", where))
		case e.WindowEnd.Before(e.WindowStart):
			errs = append(errs, fmt.Errorf("%s: window_end before window_start", where))
		}
		if e.ToBlock != 0 && e.ToBlock < e.FromBlock {
			errs = append(errs, fmt.Errorf("%s: to_block before from_block", where))
		}
		if _, err := e.MinValue(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
		if e.Policy != "transaction" && e.Policy != "aggregate" {
			errs = append(errs, fmt.Errorf("%s: unknown policy %q", where, e.Policy))
		}
		if e.WalletTopic < 1 || e.WalletTopic > 3 {
			errs = append(errs, fmt.Errorf("%s: wallet_topic must be 1, 2 or 3", where))
		}
		if e.POAPEventID < 0 {
			errs = append(errs, fmt.Errorf("%s: poap_event_id cannot be negative", where))
		}
	}
	return errors.Join(errs...)
}

func envSuffix(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
