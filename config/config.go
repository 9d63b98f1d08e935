package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

// SysConfig holds process-wide settings.
type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

// WebConfig holds the HTTP listener settings.
type WebConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	// AddressSuffix is appended to normalized destination numbers.
	AddressSuffix string `yaml:"address_suffix" json:"address_suffix"`
	// MessageBufferSize bounds the per-session inbound message buffer.
	MessageBufferSize int `yaml:"message_buffer_size" json:"message_buffer_size"`
	// PairingWaitMs bounds AwaitPairingImage.
	PairingWaitMs int `yaml:"pairing_wait_ms" json:"pairing_wait_ms"`
	// ReconnectMaxAttempts caps automatic reconnects after a recoverable
	// close. Attempts reset once a connection opens.
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts" json:"reconnect_max_attempts"`
	// ReconnectBackoffMs is the initial backoff, doubled per attempt up to
	// ReconnectBackoffCapMs.
	ReconnectBackoffMs    int `yaml:"reconnect_backoff_ms" json:"reconnect_backoff_ms"`
	ReconnectBackoffCapMs int `yaml:"reconnect_backoff_cap_ms" json:"reconnect_backoff_cap_ms"`
	// PushWorkers sizes the push delivery pool.
	PushWorkers int `yaml:"push_workers" json:"push_workers"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Mode       string `yaml:"mode" json:"mode"` // development or production
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

type AppConfig struct {
	System  SysConfig     `yaml:"system" json:"system"`
	Web     WebConfig     `yaml:"web" json:"web"`
	Session SessionConfig `yaml:"session" json:"session"`
	Logger  LoggerConfig  `yaml:"logger" json:"logger"`
}

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

// GetSessionsDir returns the root under which per-session credential
// directories live.
func (c *AppConfig) GetSessionsDir() string {
	return filepath.Join(c.System.Workdir, "sessions")
}

func (c *AppConfig) InitDirs() {
	_ = os.MkdirAll(c.GetSessionsDir(), 0755)
	_ = os.MkdirAll(c.GetLogDir(), 0755)
	_ = os.MkdirAll(c.GetDataDir(), 0755)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wppgate",
		Location: "Asia/Jakarta",
		Workdir:  "data",
		Debug:    true,
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 3000,
	},
	Session: SessionConfig{
		AddressSuffix:         "s.whatsapp.net",
		MessageBufferSize:     50,
		PairingWaitMs:         5000,
		ReconnectMaxAttempts:  10,
		ReconnectBackoffMs:    2000,
		ReconnectBackoffCapMs: 60000,
		PushWorkers:           64,
	},
	Logger: LoggerConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "data/wppgate.log",
	},
}

func setEnvValue(name string, f func(v string)) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		f(v)
	}
}

// LoadConfig reads the YAML file when it exists and applies environment
// overrides on top of the defaults.
func LoadConfig(cfile string) *AppConfig {
	def := *DefaultAppConfig
	cfg := &def
	if cfile != "" {
		if _, err := os.Stat(cfile); err == nil {
			data, err := os.ReadFile(cfile)
			if err == nil {
				_ = yaml.Unmarshal(data, cfg)
			}
		}
	}

	// NODE_ENV=production moves credentials to a persistent root unless the
	// workdir was configured explicitly.
	setEnvValue("NODE_ENV", func(v string) {
		if v == "production" && cfg.System.Workdir == DefaultAppConfig.System.Workdir {
			cfg.System.Workdir = "/var/lib/wppgate"
		}
		if v == "production" {
			cfg.Logger.Mode = "production"
			cfg.System.Debug = false
		}
	})
	setEnvValue("PORT", func(v string) {
		cfg.Web.Port = cast.ToInt(v)
	})
	setEnvValue("WPPGATE_SYSTEM_WORKDIR", func(v string) {
		cfg.System.Workdir = v
	})
	setEnvValue("WPPGATE_SYSTEM_DEBUG", func(v string) {
		cfg.System.Debug = cast.ToBool(v)
	})
	setEnvValue("WPPGATE_WEB_HOST", func(v string) {
		cfg.Web.Host = v
	})
	setEnvValue("WPPGATE_LOGGER_MODE", func(v string) {
		cfg.Logger.Mode = v
	})
	setEnvValue("WPPGATE_SESSION_ADDRESS_SUFFIX", func(v string) {
		cfg.Session.AddressSuffix = v
	})
	setEnvValue("WPPGATE_SESSION_RECONNECT_MAX_ATTEMPTS", func(v string) {
		cfg.Session.ReconnectMaxAttempts = cast.ToInt(v)
	})
	return cfg
}

// Environment reports the runtime environment name for health reporting.
func Environment() string {
	if v := os.Getenv("NODE_ENV"); v != "" {
		return v
	}
	return "development"
}
