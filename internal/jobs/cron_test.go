package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSpec(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"0 3 * * *", "*/15 * * * *", "@hourly", "@every 90s"} {
		assert.NoError(t, ValidateSpec(spec), spec)
	}

	for _, spec := range []string{"", "61 * * * *", "not a spec", "* * * * * *"} {
		assert.Error(t, ValidateSpec(spec), spec)
	}
}

func TestCron_AddSkipsEmptySpec(t *testing.T) {
	t.Parallel()

	c := NewCron(context.Background(), testLogger(t))

	require.NoError(t, c.Add(Trigger{Name: "off"}))
	require.NoError(t, c.Add(Trigger{Name: "nightly", Spec: "0 3 * * *", Run: func(context.Context) error { return nil }}))
	assert.Equal(t, 1, c.Len())

	err := c.Add(Trigger{Name: "broken", Spec: "every tuesday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 1, c.Len())
}

func TestCron_FiresTriggers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewCron(ctx, testLogger(t))

	fired := make(chan struct{}, 8)

	require.NoError(t, c.Add(Trigger{
		Name: "tick",
		Spec: "@every 1s",
		Run: func(got context.Context) error {
			assert.Equal(t, ctx, got)
			fired <- struct{}{}

			// Errors are logged, not fatal to the schedule.
			return errors.New("upstream down")
		},
	}))

	c.Start()
	defer c.Stop()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger never fired")
	}
}
