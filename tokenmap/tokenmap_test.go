package tokenmap

import (
	"errors"
	"testing"

	"anchorebridge/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcPackage = "252b389809b60443e752964db503c3c2e9637fe35d0e7241209c140244ef953f"

func TestMapperResolve(t *testing.T) {
	table, err := NewTable([]Entry{{
		SourceChainID:  11155111,
		SourceTokenRef: "0xAbCdEf0000000000000000000000000000000001",
		DestChain:      "casper-test",
		DestTokenRef:   "hash-" + usdcPackage,
		Decimals:       6,
	}})
	require.NoError(t, err)
	m := New(table)

	d, err := m.Resolve("0xabcdef0000000000000000000000000000000001", 11155111)
	require.NoError(t, err)
	assert.Equal(t, types.TokenDescriptor{ChainID: "casper-test", TokenRef: usdcPackage, Decimals: 6}, d)

	_, err = m.Resolve("0xabcdef0000000000000000000000000000000001", 1)
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	_, err = New(nil).Resolve("x", 1)
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestNewTableRejectsBadEntries(t *testing.T) {
	_, err := NewTable([]Entry{{SourceChainID: 1, SourceTokenRef: "0x1", DestChain: "casper-test"}})
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	dup := Entry{SourceChainID: 1, SourceTokenRef: "0x1", DestChain: "casper-test", DestTokenRef: usdcPackage}
	_, err = NewTable([]Entry{dup, dup})
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"12.345", 6, "12345000"},
		{"0.000001", 6, "1"},
		{"1", 0, "1"},
		{".5", 1, "5"},
		{"007", 2, "700"},
		{"1000000", 18, "1000000000000000000000000"},
	}
	for _, c := range cases {
		got, err := ToBaseUnits(c.in, c.decimals)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	for _, bad := range []string{"", "-1", "1.", "1.2.3", "abc", "1.0000001", "1e6"} {
		_, err := ToBaseUnits(bad, 6)
		assert.True(t, errors.Is(err, ErrInvalidAmount), bad)
	}
}

func TestFromBaseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"12345000", 6, "12.345"},
		{"1", 6, "0.000001"},
		{"1000000", 6, "1"},
		{"0", 6, "0"},
		{"42", 0, "42"},
	}
	for _, c := range cases {
		got, err := FromBaseUnits(c.in, c.decimals)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, err := FromBaseUnits("-5", 6)
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestUnitsRoundTrip(t *testing.T) {
	for _, s := range []string{"12.345", "0.1", "999999.999999", "3", "0.000001"} {
		base, err := ToBaseUnits(s, 6)
		require.NoError(t, err)
		back, err := FromBaseUnits(base, 6)
		require.NoError(t, err)
		assert.Equal(t, s, back)

		again, err := ToBaseUnits(back, 6)
		require.NoError(t, err)
		assert.Equal(t, base, again)
	}
}
