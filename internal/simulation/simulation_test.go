package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/mevguard/internal/pagination"
	"github.com/mbd888/mevguard/internal/relay"
	"github.com/mbd888/mevguard/internal/risk"
	"github.com/mbd888/mevguard/internal/validation"
)

type fixedSignal struct {
	value float64
	asked []string
}

func (f *fixedSignal) ContextSignal(addr string) float64 {
	f.asked = append(f.asked, addr)
	return f.value
}

type failingStore struct{}

func (failingStore) Record(context.Context, *risk.Record) error { return errors.New("db down") }
func (failingStore) ListByContract(context.Context, string, *pagination.Cursor, int) ([]*risk.Record, error) {
	return nil, errors.New("db down")
}

func newService() *Service {
	scorer := risk.NewScorer()
	return NewService(scorer, relay.NewGate(scorer), nil)
}

func decode(t *testing.T, body string) Request {
	t.Helper()
	var req Request
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func TestAmount_Unmarshal(t *testing.T) {
	var in TransactionInput
	require.NoError(t, json.Unmarshal([]byte(`{
		"value": 2000000000000000000,
		"gasPrice": "0x22ecb25c00",
		"minAmountOut": null,
		"slippage": true
	}`), &in))

	assert.Equal(t, Amount("2000000000000000000"), in.Value)
	assert.Equal(t, Amount("0x22ecb25c00"), in.GasPrice)
	assert.Equal(t, Amount(""), in.MinAmountOut)
	assert.Equal(t, Amount("1"), in.Slippage)
}

func TestAmount_UnmarshalFloatForms(t *testing.T) {
	tests := []struct {
		raw  string
		want Amount
	}{
		{`2e18`, "2000000000000000000"},
		{`1.5e11`, "150000000000"},
		{`150000000000.0`, "150000000000"},
		{`2E3`, "2000"},
		{`0.5`, "0.5"},
	}
	for _, tt := range tests {
		var a Amount
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &a), tt.raw)
		assert.Equal(t, tt.want, a, tt.raw)
	}
}

func TestAmount_Set(t *testing.T) {
	assert.False(t, Amount("").Set())
	assert.False(t, Amount("0").Set())
	assert.False(t, Amount("abc").Set())
	assert.True(t, Amount("0.5").Set())
	assert.True(t, Amount("1000").Set())
	assert.True(t, Amount("0x10").Set())
}

func TestSimulate_UnprotectedLargeSwap(t *testing.T) {
	svc := newService()
	req := decode(t, `{"transaction": {
		"to": "0xRouter",
		"value": "2000000000000000000",
		"gasPrice": "150000000000",
		"type": "swap"
	}}`)

	res, err := svc.Simulate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 100, res.Score)
	assert.Equal(t, risk.LevelHigh, res.Level)
	assert.Len(t, res.Warnings, 4)
	assert.Equal(t, SlippageUnprotected, res.EstimatedSlippage)
	assert.Equal(t, "100%", res.EstimatedFrontRunProbability)
	assert.Equal(t, "150000000000", res.GasPrice)
	assert.Equal(t, "2000000000000000000", res.Value)
	assert.Equal(t, "0xRouter", res.ContractAddress)
	assert.True(t, res.Relay.Advised)
}

func TestSimulate_DefaultsToSwapAndZeroAmounts(t *testing.T) {
	svc := newService()
	res, err := svc.Simulate(context.Background(), decode(t, `{"transaction": {}}`))
	require.NoError(t, err)

	// no slippage protection (35) + swap kind (20)
	assert.Equal(t, 55, res.Score)
	assert.Equal(t, risk.LevelMedium, res.Level)
	assert.Equal(t, "0", res.GasPrice)
	assert.Equal(t, "0", res.Value)
	assert.Equal(t, "0x", res.ContractAddress)
}

func TestSimulate_ProtectedTransfer(t *testing.T) {
	svc := newService()
	res, err := svc.Simulate(context.Background(), decode(t, `{"transaction": {
		"type": "transfer",
		"minAmountOut": "1000"
	}}`))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, risk.LevelLow, res.Level)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, SlippageProtected, res.EstimatedSlippage)
	assert.Equal(t, "0%", res.EstimatedFrontRunProbability)
	assert.False(t, res.Relay.Advised)
}

func TestSimulate_LargeValueOverridesLowLevel(t *testing.T) {
	svc := newService()
	res, err := svc.Simulate(context.Background(), decode(t, `{"transaction": {
		"type": "transfer",
		"slippage": 0.5,
		"value": "5000000000000000000"
	}}`))
	require.NoError(t, err)

	assert.Equal(t, risk.LevelLow, res.Level)
	assert.True(t, res.Relay.Advised)
	assert.Contains(t, res.Relay.Reason, "Large-value override")
}

func TestSimulate_ExponentAmounts(t *testing.T) {
	svc := newService()
	res, err := svc.Simulate(context.Background(), decode(t, `{"transaction": {
		"type": "transfer",
		"slippage": true,
		"value": 2e18,
		"gasPrice": 1.5e11
	}}`))
	require.NoError(t, err)

	// high gas (30) + large value (25)
	assert.Equal(t, 55, res.Score)
	assert.Equal(t, risk.LevelMedium, res.Level)
	assert.Len(t, res.Warnings, 2)
	assert.Equal(t, "2000000000000000000", res.Value)
	assert.Equal(t, "150000000000", res.GasPrice)
	assert.True(t, res.Relay.Advised)
}

func TestSimulate_ContractAddressFallback(t *testing.T) {
	svc := newService()
	res, err := svc.Simulate(context.Background(), decode(t, `{
		"transaction": {"type": "transfer"},
		"contractAddress": "0xPool"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "0xPool", res.ContractAddress)
}

func TestSimulate_UsesContextSignal(t *testing.T) {
	signals := &fixedSignal{value: 1}
	svc := newService().WithSignals(signals)

	res, err := svc.Simulate(context.Background(), decode(t, `{
		"transaction": {"type": "transfer", "minAmountOut": "1", "to": "0xRouter"},
		"contractAddress": "0xPool"
	}`))
	require.NoError(t, err)

	assert.Equal(t, 15, res.Score)
	assert.Equal(t, 1.0, res.ContextSignal)
	assert.Contains(t, res.Warnings, "Similar transaction patterns detected in mempool")
	assert.Equal(t, []string{"0xPool"}, signals.asked)
}

func TestSimulate_MissingTransaction(t *testing.T) {
	svc := newService()
	_, err := svc.Simulate(context.Background(), Request{})
	require.Error(t, err)

	var verrs validation.Errors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "transaction", verrs[0].Field)
}

func TestSimulate_RecordsAssessment(t *testing.T) {
	store := risk.NewMemoryStore()
	svc := newService().WithStore(store)

	_, err := svc.Simulate(context.Background(), decode(t, `{"transaction": {"to": "0xABC"}}`))
	require.NoError(t, err)

	page, err := svc.History(context.Background(), "0xabc", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Assessments, 1)
	records := page.Assessments
	assert.Equal(t, "0xabc", records[0].ContractAddress)
	assert.Equal(t, 55, records[0].Score)
	assert.True(t, records[0].RelayAdvised)
	assert.Contains(t, records[0].ID, "risk_")
	assert.False(t, page.HasMore)
}

func TestSimulate_StoreFailureIsNotFatal(t *testing.T) {
	svc := newService().WithStore(failingStore{})
	res, err := svc.Simulate(context.Background(), decode(t, `{"transaction": {}}`))
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestHistory_WithoutStore(t *testing.T) {
	page, err := newService().History(context.Background(), "0xabc", "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Assessments)
	assert.NotNil(t, page.Assessments)
}

func TestHistory_Pages(t *testing.T) {
	svc := newService().WithStore(risk.NewMemoryStore())
	for i := 0; i < 5; i++ {
		_, err := svc.Simulate(context.Background(), decode(t, `{"transaction": {"to": "0xPool"}}`))
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; pages < 3; pages++ {
		page, err := svc.History(context.Background(), "0xPOOL", cursor, 2)
		require.NoError(t, err)
		for _, r := range page.Assessments {
			assert.False(t, seen[r.ID], "record %s repeated", r.ID)
			seen[r.ID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)
}

func TestHistory_InvalidCursor(t *testing.T) {
	_, err := newService().WithStore(risk.NewMemoryStore()).History(context.Background(), "0xabc", "garbage!", 10)
	var verrs validation.Errors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "cursor", verrs[0].Field)
}
