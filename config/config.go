/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config is the configuration surface (spec §6), adapted from
// sptp/client/config.go's ReadConfig idiom: a plain struct with yaml
// tags, defaults assigned before unmarshalling, loaded with
// os.ReadFile + yaml.Unmarshal.
package config

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Mode selects which of the four TWAMP roles a process runs as
// (spec §6).
type Mode string

// Supported modes.
const (
	ModeLightSender    Mode = "LIGHT_SENDER"
	ModeLightReflector Mode = "LIGHT_REFLECTOR"
	ModeFullSender     Mode = "FULL_SENDER"
	ModeFullReflector  Mode = "FULL_REFLECTOR"
)

// Config is the configuration surface enumerated in spec §6.
type Config struct {
	Mode              Mode          `yaml:"mode"`
	TestSessionHosts  []string      `yaml:"test_session_hosts"`
	ControlHost       string        `yaml:"control_host"`
	SourceIPAddress   string        `yaml:"source_ip_address"`
	CollectionPeriod  time.Duration `yaml:"collection_period"`
	PacketInterval    time.Duration `yaml:"packet_interval"`
	Padding           int           `yaml:"padding"`
	LastMessageTimeout time.Duration `yaml:"last_message_timeout"`
	RefWait           time.Duration `yaml:"ref_wait"`
	DSCP              int           `yaml:"dscp"`
	LogLevel          string        `yaml:"log_level"`
	MonitoringPort    int           `yaml:"monitoring_port"`
}

// Defaults matches spec §6's stated defaults and ranges.
func Defaults() Config {
	return Config{
		SourceIPAddress:    "0.0.0.0:0",
		CollectionPeriod:   10 * time.Second,
		PacketInterval:     100 * time.Millisecond,
		Padding:            0,
		LastMessageTimeout: 1 * time.Second,
		RefWait:            900 * time.Second,
		LogLevel:           "warning",
	}
}

// ReadConfig reads and validates a YAML config file.
func ReadConfig(path string) (*Config, error) {
	c := Defaults()
	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every field against spec §6's declared bounds.
// Configuration validation failure is fatal before any loop starts
// (spec §7).
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLightSender, ModeLightReflector, ModeFullSender, ModeFullReflector:
	default:
		return errors.Errorf("config: unrecognized mode %q", c.Mode)
	}
	if c.Mode == ModeLightSender || c.Mode == ModeFullSender {
		if len(c.TestSessionHosts) == 0 {
			return errors.New("config: test_session_hosts must be non-empty for a sender")
		}
		for _, h := range c.TestSessionHosts {
			if _, _, err := net.SplitHostPort(h); err != nil {
				return errors.Wrapf(err, "config: invalid test_session_hosts entry %q", h)
			}
		}
	}
	if c.Mode == ModeFullSender && c.ControlHost == "" {
		return errors.New("config: control_host is required for FULL_SENDER")
	}
	if _, _, err := net.SplitHostPort(c.SourceIPAddress); err != nil {
		return errors.Wrapf(err, "config: invalid source_ip_address %q", c.SourceIPAddress)
	}
	if c.CollectionPeriod < time.Second || c.CollectionPeriod > 3600*time.Second {
		return errors.Errorf("config: collection_period %v out of range [1s, 3600s]", c.CollectionPeriod)
	}
	if c.PacketInterval < time.Millisecond || c.PacketInterval > 1000*time.Millisecond {
		return errors.Errorf("config: packet_interval %v out of range [1ms, 1000ms]", c.PacketInterval)
	}
	if c.Padding < 0 || c.Padding > 1024 {
		return errors.Errorf("config: padding %d out of range [0, 1024]", c.Padding)
	}
	if c.LastMessageTimeout < 0 || c.LastMessageTimeout > 1000*time.Second {
		return errors.Errorf("config: last_message_timeout %v out of range [0s, 1000s]", c.LastMessageTimeout)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return errors.Errorf("config: dscp %d out of range [0, 63]", c.DSCP)
	}
	return nil
}
