// Package config loads mlcbnode configuration from YAML file with environment variable overrides.
package config

// Config is mlcbnode configuration.
type Config struct {
	LogLevel string `yaml:"log_level" env:"MLCB_LOG_LEVEL"`

	Node      NodeConfig      `yaml:"node"`
	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	Multipart MultipartConfig `yaml:"multipart"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// ---- NODE ----

type NodeConfig struct {
	// Name is module name without "CAN" prefix, up to 7 characters.
	Name         string `yaml:"name" env:"MLCB_NODE_NAME"`
	Version      string `yaml:"version"`
	Manufacturer uint8  `yaml:"manufacturer"`
	ModuleID     uint8  `yaml:"module_id"`
	CPUName      string `yaml:"cpu_name"`
	Consumer     bool   `yaml:"consumer"`
	Producer     bool   `yaml:"producer"`

	MessagesPerPoll     int  `yaml:"messages_per_poll"`
	PollIntervalMs      int  `yaml:"poll_interval_ms"`
	HeartbeatIntervalMs int  `yaml:"heartbeat_interval_ms"`
	DisableHeartbeat    bool `yaml:"disable_heartbeat"`
}

// ---- TRANSPORT ----

const (
	TransportSocketCAN   = "socketcan"
	TransportGridConnect = "gridconnect"
)

type TransportConfig struct {
	Type string `yaml:"type" env:"MLCB_TRANSPORT"`
	// Interface is SocketCAN interface name
	Interface string `yaml:"interface" env:"MLCB_CAN_INTERFACE"`
	// SerialPort is GridConnect adapter serial device
	SerialPort string `yaml:"serial_port" env:"MLCB_SERIAL_PORT"`
	Baud       int    `yaml:"baud"`

	DebugLogRawMessageBytes bool `yaml:"debug_raw_bytes"`
}

// ---- STORE ----

type StoreConfig struct {
	// Path is storm database file. Empty path means in-memory store.
	Path        string `yaml:"path" env:"MLCB_STORE_PATH"`
	MaxEvents   uint8  `yaml:"max_events"`
	EVsPerEvent uint8  `yaml:"evs_per_event"`
	NVs         uint8  `yaml:"nvs"`
}

// ---- MULTIPART ----

type MultipartConfig struct {
	StreamIDs       []uint8 `yaml:"stream_ids"`
	ReceiveContexts int     `yaml:"receive_contexts"`
	SendContexts    int     `yaml:"send_contexts"`
	BufferSize      int     `yaml:"buffer_size"`
	FragmentDelayMs int     `yaml:"fragment_delay_ms"`
	TimeoutMs       int     `yaml:"timeout_ms"`
	DisableCRC      bool    `yaml:"disable_crc"`
}

// ---- MONITOR ----

type MonitorConfig struct {
	// Address is HTTP listen address. Empty address disables monitor.
	Address string `yaml:"address" env:"MLCB_MONITOR_ADDRESS"`
}
