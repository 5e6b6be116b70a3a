package config

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/jypelle/authbox/internal/srv/display"
)

//go:embed param_default.yaml
var ParamDefaultFile []byte

//go:embed display_default.yaml
var DisplayDefaultFile []byte

var ErrMissingKey = errors.New("missing configuration key")

type ServerParam struct {
	Pins           map[string]string `yaml:"pins"`
	Badges         map[string]string `yaml:"badges"`
	UnlockDuration display.Duration  `yaml:"unlock_duration"`
	DeniedDuration display.Duration  `yaml:"denied_duration"`
	DisplayParam   DisplayParam      `yaml:"display"`
	ApiParam       ApiParam          `yaml:"api"`
	MqttParam      *MqttParam        `yaml:"mqtt,omitempty"`
}

type DisplayParam struct {
	Driver     string            `yaml:"driver"`
	I2CBus     string            `yaml:"i2c_bus"`
	Address    uint16            `yaml:"address"`
	Rows       int               `yaml:"rows"`
	Columns    int               `yaml:"columns"`
	ConfigFile string            `yaml:"config_file"`
	Kind       string            `yaml:"kind"`
	Metadata   map[string]string `yaml:"metadata"`
}

type ApiParam struct {
	Enabled   bool     `yaml:"enabled"`
	SslPort   int64    `yaml:"ssl_port"`
	ApiKey    string   `yaml:"api_key"`
	Hostnames []string `yaml:"hostnames"`
}

type MqttParam struct {
	Broker      string `yaml:"broker"`
	ClientId    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	Qos         byte   `yaml:"qos"`
}

// Lookup returns the raw value of key in section.
func (sp *ServerParam) Lookup(section, key string) (string, error) {
	switch section {
	case "pins":
		if v, ok := sp.Pins[key]; ok {
			return v, nil
		}
	case "badges":
		if v, ok := sp.Badges[key]; ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w %s.%s", ErrMissingKey, section, key)
}

// Holder returns who owns badge, if it is authorized.
func (sp *ServerParam) Holder(badge string) (string, bool) {
	holder, ok := sp.Badges[badge]
	return holder, ok
}
