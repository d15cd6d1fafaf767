package config

const (
	defaultPollIntervalMs = 5
	defaultBaud           = 115200
	defaultMaxEvents      = 32
	defaultEVsPerEvent    = 2
	defaultNVs            = 8
)

// Normalize fills defaults. It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Node.PollIntervalMs == 0 {
		cfg.Node.PollIntervalMs = defaultPollIntervalMs
	}
	if cfg.Transport.Type == "" {
		cfg.Transport.Type = TransportSocketCAN
	}
	if cfg.Transport.Type == TransportSocketCAN && cfg.Transport.Interface == "" {
		cfg.Transport.Interface = "can0"
	}
	if cfg.Transport.Baud == 0 {
		cfg.Transport.Baud = defaultBaud
	}
	if cfg.Store.MaxEvents == 0 {
		cfg.Store.MaxEvents = defaultMaxEvents
	}
	if cfg.Store.EVsPerEvent == 0 {
		cfg.Store.EVsPerEvent = defaultEVsPerEvent
	}
	if cfg.Store.NVs == 0 {
		cfg.Store.NVs = defaultNVs
	}
}
