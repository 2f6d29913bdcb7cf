package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEAN13CheckDigit(t *testing.T) {
	// 4006381333931 is the canonical EAN-13 example.
	check, err := EAN13CheckDigit("400638133393")
	require.NoError(t, err)
	assert.Equal(t, 1, check)

	_, err = EAN13CheckDigit("12345")
	assert.Error(t, err)

	_, err = EAN13CheckDigit("40063813339x")
	assert.Error(t, err)
}

func TestCompleteAndValidate(t *testing.T) {
	code, err := CompleteEAN13("400638133393")
	require.NoError(t, err)
	assert.Equal(t, "4006381333931", code)

	assert.True(t, ValidEAN13("4006381333931"))
	assert.False(t, ValidEAN13("4006381333930"))
	assert.False(t, ValidEAN13("400638133393"))
}

func TestRandomEAN13(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := RandomEAN13(rng)
		assert.True(t, ValidEAN13(code), "invalid code %s", code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 90, "codes should rarely collide")
}
