package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	StationID    string `yaml:"station_id"`
	DatabasePath string `yaml:"database_path"`

	Mover      MoverConfig      `yaml:"mover"`
	Controller ControllerConfig `yaml:"controller"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Records    RecordsConfig    `yaml:"records"`
	Redis      RedisConfig      `yaml:"redis"`
	Web        WebConfig        `yaml:"web"`
	Messaging  MessagingConfig  `yaml:"messaging"`
}

// MoverConfig defines the mover UDP endpoint and its named points.
type MoverConfig struct {
	Address  string               `yaml:"address"`
	Token    string               `yaml:"token"`
	PollRate time.Duration        `yaml:"poll_rate"`
	Timeout  time.Duration        `yaml:"timeout"`
	Points   map[string]SidePoints `yaml:"points"`
}

// SidePoints holds the hand-off and standby point ids for one side.
type SidePoints struct {
	Handoff uint32 `yaml:"handoff" json:"handoff"`
	Standby uint32 `yaml:"standby" json:"standby"`
}

// ControllerConfig defines the controller Modbus TCP endpoint and address map.
type ControllerConfig struct {
	Address   string            `yaml:"address"`
	SlaveID   byte              `yaml:"slave_id"`
	PollRate  time.Duration     `yaml:"poll_rate"`
	Timeout   time.Duration     `yaml:"timeout"`
	Addresses map[string]string `yaml:"addresses"`
}

// ReconnectConfig defines the shared backoff and breaker policy for device sessions.
type ReconnectConfig struct {
	Base      time.Duration `yaml:"base"`
	Max       time.Duration `yaml:"max"`
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// WorkflowConfig tunes the repair state machine.
type WorkflowConfig struct {
	// AwaitTimeout bounds every awaiting stage. Zero waits indefinitely.
	AwaitTimeout   time.Duration `yaml:"await_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// RecordsConfig defines the remote system of record.
type RecordsConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// RedisConfig defines the live status cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// MessagingConfig defines the messaging backend.
type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "mqtt" or "kafka"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	TaskTopic           string        `yaml:"task_topic"`
	StatusTopic         string        `yaml:"status_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		StationID:    "repair-cell-1",
		DatabasePath: "repairedge.db",
		Mover: MoverConfig{
			Address:  "192.168.1.50:19206",
			PollRate: 500 * time.Millisecond,
			Timeout:  2 * time.Second,
			Points:   map[string]SidePoints{},
		},
		Controller: ControllerConfig{
			Address:  "192.168.1.60:502",
			SlaveID:  1,
			PollRate: 500 * time.Millisecond,
			Timeout:  2 * time.Second,
			Addresses: map[string]string{
				"mover_at_handoff":      "M100",
				"item_position":         "D100",
				"actuator_enable":       "M101",
				"return_to_handoff":     "M102",
				"controller_at_item":    "M110",
				"actuator_done":         "M111",
				"controller_at_handoff": "M112",
			},
		},
		Reconnect: ReconnectConfig{
			Base:      500 * time.Millisecond,
			Max:       10 * time.Second,
			Threshold: 5,
			Cooldown:  30 * time.Second,
		},
		Workflow: WorkflowConfig{
			CommandTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			TTL:     30 * time.Second,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8082,
		},
		Messaging: MessagingConfig{
			Backend:             "mqtt",
			TaskTopic:           "repair/tasks",
			StatusTopic:         "repair/status",
			OutboxDrainInterval: 5 * time.Second,
			HeartbeatInterval:   60 * time.Second,
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SidePoints returns the configured points for a side.
func (c *Config) SidePoints(side string) (SidePoints, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.Mover.Points[side]
	if !ok {
		return SidePoints{}, fmt.Errorf("no points configured for side %q", side)
	}
	return p, nil
}

// ClientID returns the configured MQTT client ID, or derives one from the station.
func (c *Config) ClientID() string {
	if c.Messaging.MQTT.ClientID != "" {
		return c.Messaging.MQTT.ClientID
	}
	return "repairedge-" + c.StationID
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
