package generic_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-ledger/generic"
)

func money(s string) generic.Money { return generic.MustParseMoney(s) }

func TestAmortize(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		weeks     int
		want      string
	}{
		{"rounds up to the cent", "1000.00", 3, "333.34"},
		{"even split", "900.00", 3, "300.00"},
		{"single week", "250.00", 1, "250.00"},
		{"one cent over many weeks", "0.01", 52, "0.01"},
		{"zero weeks", "100.00", 0, "0.00"},
		{"negative weeks", "100.00", -2, "0.00"},
		{"zero principal", "0", 4, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generic.Amortize(money(tt.principal), tt.weeks)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestInstallments_FinalInstallmentCapped(t *testing.T) {
	// GIVEN: 1000.00 amortized over 3 weeks
	weekly := generic.Amortize(money("1000"), 3)

	// WHEN: Splitting the principal into installments
	got := generic.Installments(money("1000"), weekly)

	// THEN: The last one is whatever remains, and they add back up exactly
	require.Len(t, got, 3)
	assert.Equal(t, "333.34", got[0].String())
	assert.Equal(t, "333.34", got[1].String())
	assert.Equal(t, "333.32", got[2].String())
	assert.True(t, generic.Sum(got...).Equal(money("1000")))
}

func TestInstallments_Empty(t *testing.T) {
	assert.Empty(t, generic.Installments(generic.Zero, money("10")))
	assert.Empty(t, generic.Installments(money("10"), generic.Zero))
}

func TestNextInstallment(t *testing.T) {
	assert.Equal(t, "333.34", generic.NextInstallment(money("1000"), money("333.34")).String())
	assert.Equal(t, "333.32", generic.NextInstallment(money("333.32"), money("333.34")).String())
	assert.True(t, generic.NextInstallment(generic.Zero, money("333.34")).IsZero())
}

func TestMoney_SubCentPrecision(t *testing.T) {
	assert.False(t, money("10.25").HasSubCentPrecision())
	assert.False(t, money("10").HasSubCentPrecision())
	assert.True(t, money("10.255").HasSubCentPrecision())
}

func TestMoney_ClampZero(t *testing.T) {
	assert.True(t, money("-5").ClampZero().IsZero())
	assert.Equal(t, "5.00", money("5").ClampZero().String())
}

func TestMoney_JSON(t *testing.T) {
	// GIVEN: An amount encoded by the API
	data, err := json.Marshal(struct {
		Amount generic.Money `json:"amount"`
	}{money("1500")})
	require.NoError(t, err)

	// THEN: It is a fixed two-decimal string
	assert.JSONEq(t, `{"amount":"1500.00"}`, string(data))

	// AND: Both strings and numbers decode
	var fromString, fromNumber generic.Money
	require.NoError(t, json.Unmarshal([]byte(`"12.50"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`12.5`), &fromNumber))
	assert.True(t, fromString.Equal(fromNumber))

	var bad generic.Money
	err = json.Unmarshal([]byte(`"twelve"`), &bad)
	assert.True(t, errors.Is(err, generic.ErrInvalidAmount))
}

func TestParseMoney_Invalid(t *testing.T) {
	_, err := generic.ParseMoney("abc")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}
