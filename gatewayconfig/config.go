// Package gatewayconfig loads the gateway's startup configuration from a
// YAML file and validates it against the recognised option set.
package gatewayconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full set of recognised startup options. Field names match
// the on-disk YAML keys via struct tags.
type Config struct {
	CANInterface      string  `yaml:"can_interface"`
	CANBitrate        int     `yaml:"can_bitrate"`
	CANTransport      string  `yaml:"can_transport"`
	SerialPort        string  `yaml:"serial_port"`
	SerialBaudRate    int     `yaml:"serial_baud_rate"`
	QueryPeriodSec    float64 `yaml:"query_period_seconds"`
	CollectTimeoutSec float64 `yaml:"response_collect_timeout_seconds"`
	ExpectedPerCycle  int     `yaml:"expected_responses_per_cycle"`
	ModbusBindHost    string  `yaml:"modbus_bind_host"`
	ModbusBindPort    int     `yaml:"modbus_bind_port"`
	StringID          int     `yaml:"string_id"`

	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`
}

// Defaults returns the configuration with every recognised option at its
// documented default value.
func Defaults() Config {
	return Config{
		CANInterface:      "can0",
		CANBitrate:        250000,
		CANTransport:      "socketcan",
		SerialBaudRate:    2000000,
		QueryPeriodSec:    30,
		CollectTimeoutSec: 30,
		ExpectedPerCycle:  24,
		ModbusBindHost:    "0.0.0.0",
		ModbusBindPort:    1024,
		StringID:          1,
	}
}

// Load reads and parses a YAML config file, starting from Defaults and
// overlaying any keys present in the file.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every option is within the bounds required for the
// gateway to start. A failure here is fatal at startup (ConfigError).
func (c Config) Validate() error {
	switch {
	case c.CANInterface == "" && c.CANTransport == "socketcan":
		return fmt.Errorf("%w: can_interface must not be empty", ErrConfig)
	case c.CANTransport != "socketcan" && c.CANTransport != "slcan":
		return fmt.Errorf("%w: can_transport must be \"socketcan\" or \"slcan\", got %q", ErrConfig, c.CANTransport)
	case c.CANTransport == "slcan" && c.SerialPort == "":
		return fmt.Errorf("%w: serial_port is required when can_transport is \"slcan\"", ErrConfig)
	case c.CANBitrate <= 0:
		return fmt.Errorf("%w: can_bitrate must be positive, got %d", ErrConfig, c.CANBitrate)
	case c.QueryPeriodSec <= 0:
		return fmt.Errorf("%w: query_period_seconds must be positive, got %v", ErrConfig, c.QueryPeriodSec)
	case c.CollectTimeoutSec <= 0:
		return fmt.Errorf("%w: response_collect_timeout_seconds must be positive, got %v", ErrConfig, c.CollectTimeoutSec)
	case c.ExpectedPerCycle <= 0:
		return fmt.Errorf("%w: expected_responses_per_cycle must be positive, got %d", ErrConfig, c.ExpectedPerCycle)
	case c.ModbusBindHost == "":
		return fmt.Errorf("%w: modbus_bind_host must not be empty", ErrConfig)
	case c.ModbusBindPort <= 0 || c.ModbusBindPort > 65535:
		return fmt.Errorf("%w: modbus_bind_port out of range: %d", ErrConfig, c.ModbusBindPort)
	case c.StringID <= 0:
		return fmt.Errorf("%w: string_id must be positive, got %d", ErrConfig, c.StringID)
	}
	return nil
}
