package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPatchApplyMergesOnlySetFields(t *testing.T) {
	now := time.Now().UTC()
	cfg := LiveTradingConfig{
		TradeAmount:      100,
		MinProfitPct:     0.3,
		MinPairVolume24h: 1_000_000,
		FeePolicy:        FeePolicyTaker,
	}

	amount := 250.0
	out := ConfigPatch{TradeAmount: &amount}.Apply(cfg, now)

	assert.Equal(t, 250.0, out.TradeAmount)
	assert.Equal(t, 0.3, out.MinProfitPct, "unset fields stay put")
	assert.Equal(t, 1_000_000.0, out.MinPairVolume24h)
}

func TestConfigPatchVolumeFilterIsSingleKnob(t *testing.T) {
	// min_pair_volume_24h is the only volume filter the API exposes; a JSON
	// patch setting it must flow through to the applied config.
	var patch ConfigPatch
	require.NoError(t, json.Unmarshal([]byte(`{"min_pair_volume_24h": 250000}`), &patch))

	out := patch.Apply(LiveTradingConfig{MinPairVolume24h: 1_000_000}, time.Now().UTC())
	assert.Equal(t, 250_000.0, out.MinPairVolume24h)
}

func TestConfigPatchApplyStampsEnableTransitions(t *testing.T) {
	now := time.Now().UTC()
	on := true

	out := ConfigPatch{Enabled: &on}.Apply(LiveTradingConfig{}, now)
	require.NotNil(t, out.EnabledAt)
	assert.Equal(t, now, *out.EnabledAt)

	off := false
	later := now.Add(time.Hour)
	out = ConfigPatch{Enabled: &off}.Apply(out, later)
	require.NotNil(t, out.DisabledAt)
	assert.Equal(t, later, *out.DisabledAt)
	assert.Equal(t, now, *out.EnabledAt, "enable stamp survives the disable")
}
