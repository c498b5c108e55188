package fold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse("fail-fast")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	p, err = Parse(" Skip ")
	require.NoError(t, err)
	assert.Equal(t, Skip, p)

	p, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, Skip, p)

	_, err = Parse("sometimes")
	assert.Error(t, err)
}

func TestPolicyStringRoundTrips(t *testing.T) {
	for _, p := range []Policy{Skip, FailFast} {
		got, err := Parse(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}
