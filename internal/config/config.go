package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web     WebConfig     `yaml:"web" json:"web"`
	BLE     BLEConfig     `yaml:"ble" json:"ble"`
	Device  DeviceConfig  `yaml:"device" json:"device"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

type WebConfig struct {
	Port int `yaml:"port" json:"port"`
}

type BLEConfig struct {
	// ScanDurationSeconds bounds one scan window.
	ScanDurationSeconds int `yaml:"scan_duration_seconds" json:"scan_duration_seconds"`
	// OpTimeoutSeconds bounds individual connect/read/write operations.
	OpTimeoutSeconds int `yaml:"op_timeout_seconds" json:"op_timeout_seconds"`
}

type DeviceConfig struct {
	// StatePath is the file holding the remembered device across restarts.
	StatePath string `yaml:"state_path" json:"state_path"`
}

type LoggingConfig struct {
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Debug      bool   `yaml:"debug" json:"debug"`
}

// Manager guards the config behind a lock and persists changes back to
// its file.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	filePath string
}

func NewManager(filePath string) *Manager {
	return &Manager{filePath: filePath}
}

func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.config = DefaultConfig()
			return m.saveUnsafe()
		}
		return err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUnsafe()
}

func (m *Manager) saveUnsafe() error {
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}
	return os.WriteFile(m.filePath, data, 0600)
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = &cfg
	return m.saveUnsafe()
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Sprintf("web port %d is invalid (must be 1-65535)", c.Web.Port))
	}
	if c.BLE.ScanDurationSeconds < 1 {
		errs = append(errs, "ble scan_duration_seconds must be >= 1")
	}
	if c.BLE.OpTimeoutSeconds < 1 {
		errs = append(errs, "ble op_timeout_seconds must be >= 1")
	}
	if c.Device.StatePath == "" {
		errs = append(errs, "device state_path is required")
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, "logging max_size_mb must be >= 0")
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, "logging max_backups must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Web: WebConfig{
			Port: 8080,
		},
		BLE: BLEConfig{
			ScanDurationSeconds: 30,
			OpTimeoutSeconds:    10,
		},
		Device: DeviceConfig{
			StatePath: "/var/lib/buttonlink/device.yaml",
		},
		Logging: LoggingConfig{
			FilePath:   "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}
