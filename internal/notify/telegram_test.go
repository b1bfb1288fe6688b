package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledWithoutCredentials(t *testing.T) {
	n, err := New(Options{Token: "", ChatID: 12345})
	require.NoError(t, err)
	assert.Nil(t, n, "missing token must disable, not fail")

	n, err = New(Options{Token: "123:abc", ChatID: 0})
	require.NoError(t, err)
	assert.Nil(t, n, "missing chat id must disable, not fail")
}

func TestKRWFormatting(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-54321, "-54,321"},
		{1499.7, "1,500"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, krw(c.in), "krw(%v)", c.in)
	}
}
