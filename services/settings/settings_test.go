package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetSettingsInJSON(t *testing.T) {
	var root interface{} = map[string]interface{}{
		"daemon": map[string]interface{}{
			"bpfFilter": "tcp",
		},
	}

	got, err := getSettingsFromJSON(root, []string{"daemon", "bpfFilter"})
	require.NoError(t, err)
	assert.Equal(t, "tcp", got)

	updated, err := setSettingsInJSON(root, []string{"daemon", "zmqEndpoint"}, "tcp://*:5560")
	require.NoError(t, err)
	m := updated.(map[string]interface{})["daemon"].(map[string]interface{})
	assert.Equal(t, "tcp://*:5560", m["zmqEndpoint"])
}

func TestApplyDaemonConfigOverrides(t *testing.T) {
	cfg := DaemonConfig{BPFFilter: "tcp", FlowIdleTimeoutSec: 60}
	raw := map[string]interface{}{
		"bpfFilter":              "tcp and port 443",
		"flowIdleTimeoutSeconds": float64(120),
	}

	applyDaemonConfigOverrides(&cfg, raw)

	assert.Equal(t, "tcp and port 443", cfg.BPFFilter)
	assert.Equal(t, 120, cfg.FlowIdleTimeoutSec)
}

func TestApplyDaemonConfigOverridesIgnoresNonMap(t *testing.T) {
	cfg := DaemonConfig{BPFFilter: "tcp"}
	applyDaemonConfigOverrides(&cfg, "not a map")
	assert.Equal(t, "tcp", cfg.BPFFilter, "cfg should be unchanged when raw is not a map")
}
