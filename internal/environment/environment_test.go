package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		input string
		env   Env
	}{
		{"dev", Dev},
		{"TEST", Test},
		{" prod ", Prod},
		{"", Prod},
	}
	for i, tc := range testCases {
		env, err := Parse(tc.input)
		require.NoError(t, err, "case[%d]", i)
		assert.Equal(t, tc.env, env, "case[%d]", i)
	}
}

func TestParseUnknown(t *testing.T) {
	_, err := Parse("staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), Variable)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv(Variable, "dev")
	env, err := LoadEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "dev", env.String())
}
