package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/re-cinq/agentpipe/internal/runtime"
	"github.com/stretchr/testify/require"
)

func TestRuntime_DefaultOutput(t *testing.T) {
	r := New()
	res, err := r.Execute(context.Background(), runtime.Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "mock stage output", res.TextOutput)
	require.Len(t, r.Calls(), 1)
}

func TestRuntime_WithFailure(t *testing.T) {
	r := New(WithFailure(errors.New("boom")))
	_, err := r.Execute(context.Background(), runtime.Request{})
	require.EqualError(t, err, "boom")
}

func TestRuntime_ZeroDelayIgnoresCancelledContext(t *testing.T) {
	r := New(WithSimulatedDelay(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Execute(ctx, runtime.Request{})
	require.NoError(t, err) // zero delay resolves before ctx is observed
}
