package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchDoesNotStore(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t, "")

	out := env.mustRun(t, "search", "--state", "SP")
	assert.Contains(t, out, "Maria Silva")
	assert.Contains(t, out, "2 shown, about 2 matching")

	out = env.mustRun(t, "search", "--name", "Joao", "--json")

	var res struct {
		Total    int          `json:"total"`
		Deputies []deputyJSON `json:"deputies"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Deputies, 2)
	assert.Equal(t, int64(204521), res.Deputies[0].ExternalID)

	out = env.mustRun(t, "list")
	assert.NotContains(t, out, "Maria Silva")
}
