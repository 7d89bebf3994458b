package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const paramFilename = "param.yaml"

type ServerConfig struct {
	ConfigDir      string
	DebugMode      bool
	SimulationMode bool

	*ServerParam
}

// NewServerConfig loads the configuration folder and stops the process on
// failure.
func NewServerConfig(configDir string, debugMode bool, simulationMode bool) *ServerConfig {
	serverConfig, err := LoadServerConfig(configDir, debugMode, simulationMode)
	if err != nil {
		logrus.Fatalf("%v\n", err)
	}
	return serverConfig
}

// LoadServerConfig reads param.yaml from configDir, creating the folder and
// a default param file when missing.
func LoadServerConfig(configDir string, debugMode bool, simulationMode bool) (*ServerConfig, error) {
	serverConfig := &ServerConfig{
		ConfigDir:      configDir,
		DebugMode:      debugMode,
		SimulationMode: simulationMode,
	}

	// Check Configuration folder
	_, err := os.Stat(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Printf("Creation of config folder: %s", configDir)
			err = os.MkdirAll(configDir, 0770)
			if err != nil {
				return nil, fmt.Errorf("unable to create config folder: %w", err)
			}
		} else {
			return nil, fmt.Errorf("unable to access config folder %s: %w", configDir, err)
		}
	}

	serverConfig.ServerParam = &ServerParam{}
	err = yaml.Unmarshal(ParamDefaultFile, serverConfig.ServerParam)
	if err != nil {
		return nil, fmt.Errorf("unable to interpret default param file: %w", err)
	}

	// Open param file, values missing from it keep their default
	rawConfig, err := os.ReadFile(serverConfig.GetCompleteParamFilename())
	if err == nil {
		err = yaml.Unmarshal(rawConfig, serverConfig.ServerParam)
		if err != nil {
			return nil, fmt.Errorf("unable to interpret param file: %w", err)
		}
	} else if os.IsNotExist(err) {
		logrus.Infof("Create default param file")
		if err = serverConfig.SaveParam(); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("unable to read param file: %w", err)
	}

	if err = serverConfig.ServerParam.Validate(); err != nil {
		return nil, fmt.Errorf("invalid param file %s: %w", serverConfig.GetCompleteParamFilename(), err)
	}

	return serverConfig, nil
}

func (sc *ServerConfig) GetCompleteParamFilename() string {
	return filepath.Join(sc.ConfigDir, paramFilename)
}

// GetCompleteEdidFolder resolves edid_dir against the config folder.
func (sc *ServerConfig) GetCompleteEdidFolder() string {
	if filepath.IsAbs(sc.EdidDir) {
		return sc.EdidDir
	}
	return filepath.Join(sc.ConfigDir, sc.EdidDir)
}

func (sc *ServerConfig) SaveParam() error {
	logrus.Debugf("Save param file: %s", sc.GetCompleteParamFilename())
	rawConfig, err := yaml.Marshal(*sc.ServerParam)
	if err != nil {
		return fmt.Errorf("unable to serialize param file: %w", err)
	}
	err = os.WriteFile(sc.GetCompleteParamFilename(), rawConfig, 0660)
	if err != nil {
		return fmt.Errorf("unable to save param file: %w", err)
	}
	return nil
}
