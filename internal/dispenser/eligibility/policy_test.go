package eligibility_test

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/eligibility"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

const contract = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"

var (
	windowStart = time.Date(2023, 11, 13, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2023, 11, 16, 23, 59, 59, 0, time.UTC)
)

func devconRules() eligibility.Rules {
	return eligibility.Rules{
		Contract:    contract,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
}

func evidence(txs ...types.Transaction) types.Evidence {
	return types.Evidence{
		WalletAddress: "0x00000000000000000000000000000000000000AA",
		EventID:       "devcon-2023",
		Found:         len(txs) > 0,
		Transactions:  txs,
	}
}

func tx(hash string, at time.Time) types.Transaction {
	return types.Transaction{TxHash: hash, Target: contract, ObservedAt: at, Confirmations: 12}
}

func TestTransactionPolicy_QualifyingTx(t *testing.T) {
	v := eligibility.TransactionPolicy{}.Evaluate(evidence(tx("0xabc", windowStart.Add(time.Hour))), devconRules())

	require.True(t, v.Eligible)
	assert.Equal(t, types.ReasonQualifyingTxFound, v.Reason)
	assert.Equal(t, "0xabc", v.TxHash)
	assert.NotEmpty(t, v.Detail)
}

func TestTransactionPolicy_TargetIsCaseNormalised(t *testing.T) {
	in := tx("0xabc", windowStart.Add(time.Hour))
	in.Target = "0x1F9840A85D5AF5BF1D1762F925BDADDC4201F984"

	v := eligibility.TransactionPolicy{}.Evaluate(evidence(in), devconRules())
	assert.True(t, v.Eligible)
}

func TestTransactionPolicy_WindowBoundsInclusive(t *testing.T) {
	p := eligibility.TransactionPolicy{}
	assert.True(t, p.Evaluate(evidence(tx("0x1", windowStart)), devconRules()).Eligible)
	assert.True(t, p.Evaluate(evidence(tx("0x2", windowEnd)), devconRules()).Eligible)
}

func TestTransactionPolicy_NoTransactions(t *testing.T) {
	v := eligibility.TransactionPolicy{}.Evaluate(evidence(), devconRules())

	assert.False(t, v.Eligible)
	assert.Equal(t, types.ReasonNoQualifyingTx, v.Reason)
}

func TestTransactionPolicy_WrongContract(t *testing.T) {
	in := tx("0xabc", windowStart.Add(time.Hour))
	in.Target = "0x0000000000000000000000000000000000000001"

	v := eligibility.TransactionPolicy{}.Evaluate(evidence(in), devconRules())
	assert.False(t, v.Eligible)
	assert.Equal(t, types.ReasonNoQualifyingTx, v.Reason)
}

func TestTransactionPolicy_OutOfWindow(t *testing.T) {
	v := eligibility.TransactionPolicy{}.Evaluate(evidence(tx("0xlate", windowEnd.Add(time.Second))), devconRules())

	assert.False(t, v.Eligible)
	assert.Equal(t, types.ReasonOutOfWindow, v.Reason)
	assert.Equal(t, "0xlate", v.TxHash)
}

func TestTransactionPolicy_PicksQualifyingAmongOthers(t *testing.T) {
	early := tx("0xearly", windowStart.Add(-time.Hour))
	good := tx("0xgood", windowStart.Add(2*time.Hour))

	v := eligibility.TransactionPolicy{}.Evaluate(evidence(early, good), devconRules())
	require.True(t, v.Eligible)
	assert.Equal(t, "0xgood", v.TxHash)
}

func TestTransactionPolicy_MinConfirmations(t *testing.T) {
	rules := devconRules()
	rules.MinConfirmations = 20

	v := eligibility.TransactionPolicy{}.Evaluate(evidence(tx("0xabc", windowStart.Add(time.Hour))), rules)
	assert.False(t, v.Eligible)
	assert.Equal(t, types.ReasonNoQualifyingTx, v.Reason)
	assert.Contains(t, v.Detail, "confirmations")
}

func TestTransactionPolicy_MinValue(t *testing.T) {
	rules := devconRules()
	rules.MinValue = uint256.NewInt(1_000)

	small := tx("0xsmall", windowStart.Add(time.Hour))
	small.Value = uint256.NewInt(999)
	p := eligibility.TransactionPolicy{}
	assert.False(t, p.Evaluate(evidence(small), rules).Eligible)

	enough := tx("0xenough", windowStart.Add(time.Hour))
	enough.Value = uint256.NewInt(1_000)
	assert.True(t, p.Evaluate(evidence(enough), rules).Eligible)

	missing := tx("0xmissing", windowStart.Add(time.Hour))
	assert.False(t, p.Evaluate(evidence(missing), rules).Eligible)
}

func TestPolicies_FailClosedOnProbeError(t *testing.T) {
	ev := evidence(tx("0xabc", windowStart.Add(time.Hour)))
	ev.Err = errors.New("explorer timeout")

	permissive := []eligibility.Rules{
		devconRules(),
		{},
		{Contract: contract},
	}
	for _, p := range []eligibility.Policy{eligibility.TransactionPolicy{}, eligibility.AggregatePolicy{}} {
		for _, rules := range permissive {
			v := p.Evaluate(ev, rules)
			assert.False(t, v.Eligible)
			assert.Equal(t, types.ReasonProbeError, v.Reason)
		}
	}
}

func TestPolicies_Deterministic(t *testing.T) {
	ev := evidence(tx("0xa", windowStart.Add(-time.Hour)), tx("0xb", windowStart.Add(time.Hour)))
	for _, p := range []eligibility.Policy{eligibility.TransactionPolicy{}, eligibility.AggregatePolicy{}} {
		first := p.Evaluate(ev, devconRules())
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, p.Evaluate(ev, devconRules()))
		}
	}
}

func TestAggregatePolicy_RequiresMinTransactions(t *testing.T) {
	rules := devconRules()
	rules.MinTransactions = 2

	one := evidence(tx("0xa", windowStart.Add(time.Hour)))
	v := eligibility.AggregatePolicy{}.Evaluate(one, rules)
	assert.False(t, v.Eligible)
	assert.Equal(t, types.ReasonNoQualifyingTx, v.Reason)

	dup := evidence(tx("0xa", windowStart.Add(time.Hour)), tx("0xA", windowStart.Add(time.Hour)))
	assert.False(t, eligibility.AggregatePolicy{}.Evaluate(dup, rules).Eligible)

	two := evidence(tx("0xa", windowStart.Add(time.Hour)), tx("0xb", windowStart.Add(2*time.Hour)))
	v = eligibility.AggregatePolicy{}.Evaluate(two, rules)
	require.True(t, v.Eligible)
	assert.Equal(t, "0xa", v.TxHash)
}

func TestAggregatePolicy_AllOutOfWindow(t *testing.T) {
	ev := evidence(tx("0xa", windowEnd.Add(time.Hour)))
	v := eligibility.AggregatePolicy{}.Evaluate(ev, devconRules())
	assert.Equal(t, types.ReasonOutOfWindow, v.Reason)
}

func TestByName(t *testing.T) {
	p, err := eligibility.ByName("")
	require.NoError(t, err)
	assert.IsType(t, eligibility.TransactionPolicy{}, p)

	p, err = eligibility.ByName("Aggregate")
	require.NoError(t, err)
	assert.IsType(t, eligibility.AggregatePolicy{}, p)

	_, err = eligibility.ByName("vibes")
	require.Error(t, err)
}
