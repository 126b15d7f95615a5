package netsignal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreTraffic_Ladder(t *testing.T) {
	tests := []struct {
		name      string
		bytesIn   int64
		packetsIn int64
		want      float64
	}{
		{"idle", 0, 0, 0.05},
		{"modest traffic", 1 << 20, 1000, 0.05},
		{"bytes at elevated floor stays baseline", 1536 << 10, 0, 0.05},
		{"bytes above elevated floor", (1536 << 10) + 1, 0, 0.60},
		{"packets above elevated floor", 0, 3001, 0.60},
		{"bytes above high floor", (4 << 20) + 1, 0, 0.85},
		{"packets above high floor", 0, 8001, 0.85},
		{"bytes above critical floor", (8 << 20) + 1, 0, 0.95},
		{"packets above critical floor", 0, 15001, 0.95},
		{"either trigger is enough", 100, 20000, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ScoreTraffic(tt.bytesIn, tt.packetsIn), 1e-9)
		})
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(
		Signal{Entity: "10.0.0.1", Risk: 0.05},
		Signal{Entity: "10.0.0.2", Risk: 0.95},
	)
	assert.Equal(t, "static", src.Name())

	signals, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "10.0.0.2", signals[1].Entity)

	// Mutating fetched signals must not affect the source.
	signals[0].Risk = 1.0
	again, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.05, again[0].Risk, 1e-9)

	src.Set(Signal{Entity: "10.0.0.3", Risk: 0.60})
	replaced, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, replaced, 1)
	assert.Equal(t, "10.0.0.3", replaced[0].Entity)
}
