package observability

import (
	"context"
	"testing"
	"time"

	"grant-workers/internal/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	obs, err := New("grant-workers-test", config.ObservabilityConfig{
		JaegerEndpoint: "http://127.0.0.1:14268/api/traces",
		SampleRatio:    0.5,
	})
	require.NoError(t, err)
	assert.True(t, obs.Tracing())

	obs.RecordJob(context.Background(), "submit-application", "completed", 12*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = obs.Shutdown(ctx)
}

func TestRecordJob_ZeroValueIsSafe(t *testing.T) {
	var obs Observability
	obs.RecordJob(context.Background(), "get-application", "thrown", time.Millisecond)
	assert.False(t, obs.Tracing())
	assert.NoError(t, obs.Shutdown(context.Background()))
}
