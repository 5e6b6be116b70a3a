package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jypelle/authbox/internal/srv/display"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const paramFilename = "param.yaml"
const stateFilename = "state.yaml"

type ServerConfig struct {
	ConfigDir      string
	DebugMode      bool
	SimulationMode bool

	*ServerParam
	*ServerState
}

// NewServerConfig loads the configuration folder, stopping the process if it is unusable.
func NewServerConfig(configDir string, debugMode bool, simulationMode bool, timers Timers) *ServerConfig {
	serverConfig, err := Load(configDir, timers)
	if err != nil {
		logrus.Fatalf("%v\n", err)
	}
	serverConfig.DebugMode = debugMode
	serverConfig.SimulationMode = simulationMode
	return serverConfig
}

// Load reads param.yaml and state.yaml from configDir, creating the folder
// and default files on first run.
func Load(configDir string, timers Timers) (*ServerConfig, error) {
	serverConfig := &ServerConfig{
		ConfigDir: configDir,
	}

	// Check Configuration folder
	_, err := os.Stat(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Printf("Creation of config folder: %s", configDir)
			err = os.Mkdir(configDir, 0770)
			if err != nil {
				return nil, fmt.Errorf("unable to create config folder: %w", err)
			}
		} else {
			return nil, fmt.Errorf("unable to access config folder %s: %w", configDir, err)
		}
	}

	// Open param file
	rawConfig, err := os.ReadFile(serverConfig.GetCompleteParamFilename())
	if err != nil {
		logrus.Infof("Create default param file")
		rawConfig = ParamDefaultFile
		err = os.WriteFile(serverConfig.GetCompleteParamFilename(), rawConfig, 0660)
		if err != nil {
			return nil, fmt.Errorf("unable to save param file: %w", err)
		}
	}

	serverConfig.ServerParam = &ServerParam{}
	err = yaml.Unmarshal(rawConfig, serverConfig.ServerParam)
	if err != nil {
		return nil, fmt.Errorf("unable to interpret param file: %w", err)
	}
	serverConfig.applyDefaults()

	// Open state file
	serverConfig.ServerState, err = NewServerState(serverConfig.GetCompleteStateFilename(), timers)
	if err != nil {
		return nil, err
	}

	return serverConfig, nil
}

func (sc *ServerConfig) applyDefaults() {
	if sc.UnlockDuration <= 0 {
		sc.UnlockDuration = display.Duration(5 * time.Second)
	}
	if sc.DeniedDuration <= 0 {
		sc.DeniedDuration = display.Duration(3 * time.Second)
	}
	if sc.DisplayParam.Driver == "" {
		sc.DisplayParam.Driver = "openlcd"
	}
	if sc.DisplayParam.Address == 0 {
		sc.DisplayParam.Address = display.OpenLCDI2CAddr
	}
	if sc.DisplayParam.Rows <= 0 {
		sc.DisplayParam.Rows = 2
	}
	if sc.DisplayParam.Columns <= 0 {
		sc.DisplayParam.Columns = display.DefaultColumns
	}
	if sc.DisplayParam.ConfigFile == "" {
		sc.DisplayParam.ConfigFile = "display.yaml"
	}
	if sc.MqttParam != nil && sc.MqttParam.TopicPrefix == "" {
		sc.MqttParam.TopicPrefix = "authbox"
	}
}

func (sc *ServerConfig) GetCompleteParamFilename() string {
	return filepath.Join(sc.ConfigDir, paramFilename)
}

func (sc *ServerConfig) GetCompleteStateFilename() string {
	return filepath.Join(sc.ConfigDir, stateFilename)
}

func (sc *ServerConfig) GetCompleteDisplayFilename() string {
	if filepath.IsAbs(sc.DisplayParam.ConfigFile) {
		return sc.DisplayParam.ConfigFile
	}
	return filepath.Join(sc.ConfigDir, sc.DisplayParam.ConfigFile)
}

// LoadDisplayConfig reads the display states, writing the default
// document first if the file does not exist yet.
func (sc *ServerConfig) LoadDisplayConfig() (*display.Config, error) {
	filename := sc.GetCompleteDisplayFilename()
	raw, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		logrus.Infof("Create default display file")
		raw = DisplayDefaultFile
		err = os.WriteFile(filename, raw, 0660)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to access display file %s: %w", filename, err)
	}

	displayConfig, err := display.LoadConfig(bytes.NewReader(raw), sc.DisplayParam.Kind, sc.DisplayParam.Metadata)
	if err != nil {
		return nil, fmt.Errorf("display file %s: %w", filename, err)
	}
	return displayConfig, nil
}
