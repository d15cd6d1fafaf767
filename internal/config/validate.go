package config

import (
	"fmt"

	"github.com/Masterminds/semver"
)

// Validate checks configuration correctness. It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}

	n := cfg.Node
	if len(n.Name) > 7 {
		return fmt.Errorf("node name %q is longer than 7 characters", n.Name)
	}
	for i := 0; i < len(n.Name); i++ {
		if n.Name[i] > 0x7F {
			return fmt.Errorf("node name %q must contain ASCII characters only", n.Name)
		}
	}
	if len(n.CPUName) > 4 {
		return fmt.Errorf("cpu_name %q is longer than 4 characters", n.CPUName)
	}
	if n.Version != "" {
		if _, err := semver.NewVersion(n.Version); err != nil {
			return fmt.Errorf("node version %q is not semantic version: %w", n.Version, err)
		}
	}
	if n.MessagesPerPoll < 0 || n.PollIntervalMs < 0 || n.HeartbeatIntervalMs < 0 {
		return fmt.Errorf("node intervals and counts can not be negative")
	}

	switch cfg.Transport.Type {
	case "", TransportSocketCAN:
	case TransportGridConnect:
		if cfg.Transport.SerialPort == "" {
			return fmt.Errorf("transport %q requires serial_port", TransportGridConnect)
		}
	default:
		return fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}

	if cfg.Store.MaxEvents == 255 {
		return fmt.Errorf("store max_events can be up to 254")
	}

	m := cfg.Multipart
	if m.ReceiveContexts < 0 || m.SendContexts < 0 || m.BufferSize < 0 || m.FragmentDelayMs < 0 || m.TimeoutMs < 0 {
		return fmt.Errorf("multipart sizes and timeouts can not be negative")
	}
	seen := map[uint8]bool{}
	for _, id := range m.StreamIDs {
		if seen[id] {
			return fmt.Errorf("multipart stream id %v is listed more than once", id)
		}
		seen[id] = true
	}
	return nil
}
