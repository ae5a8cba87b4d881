package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
	}{
		{"round-robin", RoundRobin},
		{"", RoundRobin},
		{"Weighted", WeightedRoundRobin},
		{"weighted-round-robin", WeightedRoundRobin},
		{"least-connections", LeastConnections},
		{" random ", Random},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseStrategy("fastest")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, "weighted-round-robin", WeightedRoundRobin.String())
	assert.Equal(t, "unknown", Strategy(99).String())
}

func TestStrategyYAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte("strategy: least-connections\nfailure_threshold: 5\n"), &cfg))
	assert.Equal(t, LeastConnections, cfg.Strategy)
	assert.Equal(t, 5, cfg.FailureThreshold)

	out, err := yaml.Marshal(&Config{Strategy: WeightedRoundRobin})
	require.NoError(t, err)
	assert.Contains(t, string(out), "strategy: weighted-round-robin")

	require.NoError(t, yaml.Unmarshal([]byte("strategy: weighted\n"), &cfg))
	assert.Equal(t, WeightedRoundRobin, cfg.Strategy)

	assert.Error(t, yaml.Unmarshal([]byte("strategy: fastest\n"), &cfg))
}
