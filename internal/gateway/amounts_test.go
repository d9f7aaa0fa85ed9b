package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnitConversion(t *testing.T) {
	cases := []struct {
		amount string
		minor  int64
	}{
		{"1000", 100000},
		{"0.01", 1},
		{"12.345", 1235},
		{"250.50", 25050},
		{"-40", -4000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.minor, ToMinorUnits(dec(tc.amount)), tc.amount)
	}
	assert.True(t, FromMinorUnits(123456).Equal(dec("1234.56")))
	assert.True(t, FromMinorUnits(ToMinorUnits(dec("99.99"))).Equal(dec("99.99")))
}

func TestDecodeSharesRejectsMalformedMetadata(t *testing.T) {
	bad := []map[string]string{
		{},
		{metaBillIDs: "1,2", metaBillAmounts: "10.00"},
		{metaBillIDs: "x", metaBillAmounts: "10.00"},
		{metaBillIDs: "1", metaBillAmounts: "-10.00"},
		{metaBillIDs: "0", metaBillAmounts: "10.00"},
	}
	for _, meta := range bad {
		_, err := decodeShares(meta)
		assert.Error(t, err, "%v", meta)
	}

	shares, err := decodeShares(encodeMetadata(7, []billShare{
		{BillID: 3, Amount: dec("1000")},
		{BillID: 4, Amount: dec("12.5")},
	}, sourceIntent))
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, uint64(4), shares[1].BillID)
	assert.True(t, shares[1].Amount.Equal(dec("12.50")))
}
