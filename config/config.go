package config

import (
	"fmt"
	"os"
	"regexp"

	yaml "gopkg.in/yaml.v2"
)

const DefaultMasterBranch = "cvs_master"
const DefaultFuzzWindow = 300

type BranchMapping struct {
	Name   string `yaml:"name"`   // Regex for branch/tag name
	Prefix string `yaml:"prefix"` // Prefix to prepend to matching names
}

// Config for cvsgittransfer
type Config struct {
	MasterBranch   string          `yaml:"master_branch"`
	FuzzWindow     int             `yaml:"fuzz_window"` // Changeset clustering window in seconds
	BranchMappings []BranchMapping `yaml:"branch_mappings"`
}

// Unmarshal the config
func Unmarshal(config []byte) (*Config, error) {
	// Default values specified here
	cfg := &Config{
		MasterBranch: DefaultMasterBranch,
		FuzzWindow:   DefaultFuzzWindow,
	}
	err := yaml.Unmarshal(config, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters (like match patterns)", err.Error())
	}
	err = cfg.validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile - loads config file
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString - loads a string
func LoadConfigString(content []byte) (*Config, error) {
	cfg, err := Unmarshal([]byte(content))
	return cfg, err
}

func (c *Config) validate() error {
	if c.FuzzWindow <= 0 {
		return fmt.Errorf("fuzz_window must be positive, got %d", c.FuzzWindow)
	}
	if len(c.BranchMappings) > 0 {
		for _, m := range c.BranchMappings {
			if _, err := regexp.Compile(m.Name); err != nil {
				return fmt.Errorf("failed to parse '%s' as a regex", m.Name)
			}
		}
	}
	return nil
}
