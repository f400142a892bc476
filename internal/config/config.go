package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config структура конфигурации.
type Config struct {
	Logger   LogConf      // Logger - конфигурация регистратора.
	Listener ListenerConf // Listener - тайминги восстановления кадров DMX.
	Source   SourceConf   // Source - источник сэмплов для очереди.
	Universe UniverseConf // Universe - поведение хранилища каналов.
	MQTT     MQTTConf     // MQTT - конфигурация MQTT клиента.
	ArtNet   ArtNetConf   // ArtNet - зеркалирование кадров в Art-Net.
	Modules  ModulesConf  // Modules - файл привязок модулей.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level"`  // Level - уровень логирования.
	Format string `toml:"log-format"` // Format - text или json.
	Output string `toml:"log-output"` // Output - stdout, stderr или путь к файлу.
}

// ListenerConf holds the two polling tiers of the frame listener.
type ListenerConf struct {
	FrameStartPollUS int `toml:"frame-start-poll-us"` // FrameStartPollUS - пауза между кадрами (break), мкс.
	SlotPollUS       int `toml:"slot-poll-us"`        // SlotPollUS - пауза внутри кадра, мкс.
	StallWarningMS   int `toml:"stall-warning-ms"`    // StallWarningMS - порог предупреждения о простое, мс.
}

// SourceConf selects the producer feeding the input queue.
type SourceConf struct {
	Kind               string `toml:"kind"`                 // Kind - generator, mqtt или none.
	GenerateIntervalMS int    `toml:"generate-interval-ms"` // GenerateIntervalMS - период генератора, мс.
}

// UniverseConf структура конфигурации.
type UniverseConf struct {
	Confirm string `toml:"confirm"` // Confirm - auto, prompt или deny.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled     bool   `toml:"enabled"`      // Enabled - включить мост MQTT.
	ClientID    string `toml:"clientID"`     // ClientID - имя клиента.
	Host        string `toml:"server"`       // Host - адрес MQTT сервера.
	Port        string `toml:"port"`         // Port - порт MQTT сервера.
	User        string `toml:"user"`         // User - логин для подключения к MQTT серверу.
	Password    string `toml:"password"`     // Password - пароль для подключения к MQTT серверу.
	Qos         byte   `toml:"qos"`          // Qos - качество обслуживания.
	TopicPrefix string `toml:"topic-prefix"` // TopicPrefix - корень дерева топиков.
}

// ArtNetConf структура конфигурации.
type ArtNetConf struct {
	Enabled  bool   `toml:"enabled"`  // Enabled - отправлять кадры в Art-Net.
	Network  string `toml:"network"`  // Network - CIDR сети Art-Net.
	Universe uint16 `toml:"universe"` // Universe: старший байт - SubUni, младший байт - Net.
}

// ModulesConf структура конфигурации.
type ModulesConf struct {
	File string `toml:"file"` // File - путь к YAML файлу с привязками.
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Logger: LogConf{Level: "info"},
		Listener: ListenerConf{
			FrameStartPollUS: 88,
			SlotPollUS:       10,
			StallWarningMS:   1000,
		},
		Source: SourceConf{
			Kind:               "none",
			GenerateIntervalMS: 25,
		},
		Universe: UniverseConf{Confirm: "auto"},
		MQTT: MQTTConf{
			ClientID:    "dmxeffects",
			Host:        "localhost",
			Port:        "1883",
			TopicPrefix: "dmxeffects",
		},
		ArtNet: ArtNetConf{Network: "192.168.6.0/24"},
	}
}

// Validate rejects combinations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Listener.FrameStartPollUS <= 0 || c.Listener.SlotPollUS <= 0 {
		return fmt.Errorf("listener poll intervals must be positive (got %d/%d us)",
			c.Listener.FrameStartPollUS, c.Listener.SlotPollUS)
	}
	switch c.Source.Kind {
	case "none", "generator":
	case "mqtt":
		if !c.MQTT.Enabled {
			return fmt.Errorf("source %q requires [MQTT] enabled = true", c.Source.Kind)
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	switch c.Universe.Confirm {
	case "auto", "prompt", "deny":
	default:
		return fmt.Errorf("unknown confirm mode %q", c.Universe.Confirm)
	}
	return nil
}

// FrameStartPoll returns the idle wait used while awaiting a frame start.
func (l ListenerConf) FrameStartPoll() time.Duration {
	return time.Duration(l.FrameStartPollUS) * time.Microsecond
}

// SlotPoll returns the idle wait used inside a frame.
func (l ListenerConf) SlotPoll() time.Duration {
	return time.Duration(l.SlotPollUS) * time.Microsecond
}

// StallWarning returns the mid-frame gap after which a stall is logged.
func (l ListenerConf) StallWarning() time.Duration {
	return time.Duration(l.StallWarningMS) * time.Millisecond
}

// GenerateInterval returns the generator period.
func (s SourceConf) GenerateInterval() time.Duration {
	return time.Duration(s.GenerateIntervalMS) * time.Millisecond
}
