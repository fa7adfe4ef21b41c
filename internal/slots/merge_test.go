package slots

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	swap := ActionSwap
	stake := ActionStake
	return []Record{
		{},
		{Action: &swap},
		{Action: &swap, Amount: Ptr("100"), TokenIn: Ptr("USDC"), TokenOut: Ptr("ETH")},
		{Protocol: Ptr("Uniswap")},
		{Action: &stake, Amount: Ptr("2.5"), TokenIn: Ptr("ETH"), Slippage: Ptr(0.5)},
		{Deadline: Ptr(1200), GasPrice: Ptr("30")},
	}
}

func TestMergeIdempotent(t *testing.T) {
	records := sampleRecords()
	for _, r := range records {
		for _, r2 := range records {
			once := Merge(r, r2)
			twice := Merge(r, once)
			if diff := cmp.Diff(once, twice); diff != "" {
				t.Fatalf("Merge not idempotent (-once +twice):\n%s", diff)
			}
		}
	}
}

func TestMergeNeverRegressesFilledFields(t *testing.T) {
	records := sampleRecords()
	for _, prev := range records {
		for _, next := range records {
			merged := Merge(prev, next)
			for _, f := range allFields {
				if prev.Has(f) && !next.Has(f) {
					assert.Equal(t, prev.Value(f), merged.Value(f), "field %s regressed", f)
				}
				if next.Has(f) {
					assert.Equal(t, next.Value(f), merged.Value(f), "field %s not overridden", f)
				}
			}
		}
	}
}

func TestMergeIncrementalSwap(t *testing.T) {
	swap := ActionSwap
	first := Record{Action: &swap, Amount: Ptr("100"), TokenIn: Ptr("USDC"), TokenOut: Ptr("ETH")}
	second := Record{Protocol: Ptr("Uniswap")}

	merged := Merge(first, second)
	require.NotNil(t, merged.Protocol)
	assert.Equal(t, "Uniswap", *merged.Protocol)
	assert.Equal(t, "100", *merged.Amount)
	assert.Equal(t, ActionSwap, *merged.Action)
}

func TestRequiredFieldsDeterministic(t *testing.T) {
	for _, a := range Actions {
		a := a
		first := RequiredFields(&a)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, RequiredFields(&a), "action %s", a)
		}
		assert.Equal(t, FieldAction, first[0])
	}
	assert.Equal(t, []Field{FieldAction}, RequiredFields(nil))
}

func TestRequiredFieldsTable(t *testing.T) {
	tests := []struct {
		action Action
		want   []Field
	}{
		{ActionSwap, []Field{FieldAction, FieldAmount, FieldTokenIn, FieldTokenOut, FieldProtocol}},
		{ActionDeposit, []Field{FieldAction, FieldAmount, FieldTokenIn, FieldProtocol}},
		{ActionBorrow, []Field{FieldAction, FieldAmount, FieldTokenIn, FieldProtocol}},
		{ActionClaimRewards, []Field{FieldAction, FieldProtocol}},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			a := tt.action
			assert.Equal(t, tt.want, RequiredFields(&a))
		})
	}
}

func TestRequiredFieldsReturnsFreshSlice(t *testing.T) {
	swap := ActionSwap
	got := RequiredFields(&swap)
	got[0] = "mutated"
	assert.Equal(t, FieldAction, RequiredFields(&swap)[0])
}

func TestPruneForDropsStaleFields(t *testing.T) {
	swap := ActionSwap
	claim := ActionClaimRewards
	r := Record{Action: &swap, Amount: Ptr("1"), TokenIn: Ptr("ETH"), TokenOut: Ptr("USDC"), Protocol: Ptr("Aave"), Slippage: Ptr(1.0)}
	r.Action = &claim

	pruned := r.PruneFor(&claim)
	assert.Nil(t, pruned.Amount)
	assert.Nil(t, pruned.TokenIn)
	assert.Nil(t, pruned.TokenOut)
	require.NotNil(t, pruned.Protocol)
	assert.Equal(t, "Aave", *pruned.Protocol)
	require.NotNil(t, pruned.Slippage)
}

func TestActionChanged(t *testing.T) {
	swap, stake := ActionSwap, ActionStake
	assert.True(t, ActionChanged(Record{Action: &swap}, Record{Action: &stake}))
	assert.False(t, ActionChanged(Record{Action: &swap}, Record{Action: &swap}))
	assert.False(t, ActionChanged(Record{}, Record{Action: &stake}))
	assert.False(t, ActionChanged(Record{Action: &swap}, Record{}))
}

func TestDetectProtocol(t *testing.T) {
	got, ok := DetectProtocol("please use uniswap for this")
	require.True(t, ok)
	assert.Equal(t, "Uniswap", got)

	got, ok = DetectProtocol("route it through 1inch")
	require.True(t, ok)
	assert.Equal(t, "1inch", got)

	_, ok = DetectProtocol("swap on uniswapper")
	assert.False(t, ok)
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" 100.50 ")
	require.NoError(t, err)
	assert.Equal(t, "100.5", d.String())

	_, err = ParseAmount("0")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ParseAmount("-3")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ParseAmount("lots")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNormalize(t *testing.T) {
	r := Record{TokenIn: Ptr(" usdc "), TokenOut: Ptr(""), Protocol: Ptr("UNISWAP"), Amount: Ptr("null")}.Normalize()
	require.NotNil(t, r.TokenIn)
	assert.Equal(t, "USDC", *r.TokenIn)
	assert.Nil(t, r.TokenOut)
	assert.Nil(t, r.Amount)
	assert.Equal(t, "Uniswap", *r.Protocol)
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("Claim Rewards")
	require.True(t, ok)
	assert.Equal(t, ActionClaimRewards, a)

	_, ok = ParseAction("yolo")
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	swap := ActionSwap
	r := Record{Action: &swap, Amount: Ptr("100"), Slippage: Ptr(0.5)}
	assert.Equal(t, "Action: swap, Amount: 100, Slippage: 0.5%", r.Summary())
	assert.Equal(t, "No details collected yet", Record{}.Summary())
}
