package wallet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriver_GenerateProducesValidPhrase(t *testing.T) {
	d := NewDeriver("password")

	phrase, err := d.Generate(DefaultEntropyBits)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(phrase), 12)

	account, err := d.Derive(phrase)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(account.Address, "SP"))
	assert.Len(t, account.PrivateKey, 32)
}

func TestDeriver_DeriveIsDeterministic(t *testing.T) {
	d := NewDeriver("password")

	phrase, err := d.Generate(256)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(phrase), 24)

	first, err := d.Derive(phrase)
	require.NoError(t, err)
	second, err := d.Derive(phrase)
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.PrivateKey, second.PrivateKey)
}

func TestDeriver_DistinctPhrasesDistinctAddresses(t *testing.T) {
	d := NewDeriver("password")

	a, err := d.Generate(DefaultEntropyBits)
	require.NoError(t, err)
	b, err := d.Generate(DefaultEntropyBits)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	accA, err := d.Derive(a)
	require.NoError(t, err)
	accB, err := d.Derive(b)
	require.NoError(t, err)

	assert.NotEqual(t, accA.Address, accB.Address)
}

func TestDeriver_RejectsInvalidMnemonic(t *testing.T) {
	d := NewDeriver("password")

	_, err := d.Derive("definitely not a real seed phrase at all")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestDeriver_SeedPasswordChangesAddress(t *testing.T) {
	phrase, err := NewDeriver("one").Generate(DefaultEntropyBits)
	require.NoError(t, err)

	accOne, err := NewDeriver("one").Derive(phrase)
	require.NoError(t, err)
	accTwo, err := NewDeriver("two").Derive(phrase)
	require.NoError(t, err)

	assert.NotEqual(t, accOne.Address, accTwo.Address)
}
