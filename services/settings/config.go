package settings

// DaemonConfig is the typed view of the settings file's "daemon"
// section consumed by cmd/tlsflowd at startup: capture source and BPF
// filter, the ZMQ publish endpoint, the REST API's bind
// address/signing secret, and the GeoIP database path. The flow idle
// timeout is parsed but not consumed; services/dispatch evicts idle
// flows after its own fixed timeout.
type DaemonConfig struct {
	CaptureInterface   string `json:"captureInterface"`
	CaptureFile        string `json:"captureFile"`
	BPFFilter          string `json:"bpfFilter"`
	FlowIdleTimeoutSec int    `json:"flowIdleTimeoutSeconds"`
	ZmqEndpoint        string `json:"zmqEndpoint"`
	RestBindAddress    string `json:"restBindAddress"`
	RestJWTSecret      string `json:"restJwtSecret"`
	GeoIPDatabasePath  string `json:"geoipDatabasePath"`
}

// LoadDaemonConfig reads the capture/export/API section of the
// settings file, falling back to the bundled defaults file for any
// segment missing from the live settings file.
func LoadDaemonConfig() DaemonConfig {
	cfg := DaemonConfig{
		BPFFilter:          "tcp",
		FlowIdleTimeoutSec: 60,
		ZmqEndpoint:        "tcp://*:5560",
		RestBindAddress:    ":8080",
		GeoIPDatabasePath:  "/etc/tlsflowd/GeoLite2-Country.mmdb",
	}

	raw := GetDefaultSettings([]string{"daemon"})
	applyDaemonConfigOverrides(&cfg, raw)

	raw = GetSettings([]string{"daemon"})
	applyDaemonConfigOverrides(&cfg, raw)

	return cfg
}

func applyDaemonConfigOverrides(cfg *DaemonConfig, raw interface{}) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return
	}

	if v, ok := m["captureInterface"].(string); ok && v != "" {
		cfg.CaptureInterface = v
	}
	if v, ok := m["captureFile"].(string); ok && v != "" {
		cfg.CaptureFile = v
	}
	if v, ok := m["bpfFilter"].(string); ok && v != "" {
		cfg.BPFFilter = v
	}
	if v, ok := m["flowIdleTimeoutSeconds"].(float64); ok && v > 0 {
		cfg.FlowIdleTimeoutSec = int(v)
	}
	if v, ok := m["zmqEndpoint"].(string); ok && v != "" {
		cfg.ZmqEndpoint = v
	}
	if v, ok := m["restBindAddress"].(string); ok && v != "" {
		cfg.RestBindAddress = v
	}
	if v, ok := m["restJwtSecret"].(string); ok && v != "" {
		cfg.RestJWTSecret = v
	}
	if v, ok := m["geoipDatabasePath"].(string); ok && v != "" {
		cfg.GeoIPDatabasePath = v
	}
}
