package main

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"orei-control/internal/history"
	"orei-control/internal/multiviewer"
	"orei-control/internal/roku"
)

const (
	defaultListen       = ":5000"
	defaultSettingsFile = "app_config.json"
	defaultMappingsFile = "roku_devices.json"
	defaultBaseTopic    = "orei"
)

// loadConfig reads the XML configuration. A missing file is only an error when
// required is set; otherwise the built-in defaults are used.
func loadConfig(filename string, required bool) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := xml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse XML config: %v", err)
		}
		log.Printf("Loaded configuration from: %s", filename)
	case errors.Is(err, fs.ErrNotExist) && !required:
		log.Printf("Config file %s not found, using defaults", filename)
	default:
		return cfg, fmt.Errorf("failed to read config file '%s': %v", filename, err)
	}

	cfg.applyDefaults()

	if _, err := multiviewer.ParseMatchers(cfg.Completion); err != nil {
		return cfg, fmt.Errorf("invalid completion pattern: %v", err)
	}

	log.Printf("Serial device %s at %d baud (response timeout %v, command delay %v)",
		cfg.Serial.Device, cfg.Serial.Speed, cfg.Serial.ResponseTimeout.Std(), cfg.Serial.CommandDelay.Std())
	if len(cfg.Completion) > 0 {
		log.Printf("Custom completion patterns: %q", cfg.Completion)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.HistorySize <= 0 || cfg.HistorySize > history.Capacity {
		cfg.HistorySize = history.Capacity
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}
	if cfg.Server.WebDir == "" {
		cfg.Server.WebDir = "."
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = defaultSettingsFile
	}

	s := &cfg.Serial
	if s.Device == "" {
		s.Device = multiviewer.DefaultTarget
	}
	if s.Speed <= 0 {
		s.Speed = multiviewer.DefaultBaudRate
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = Duration(multiviewer.DefaultReadTimeout)
	}
	if s.ResponseTimeout <= 0 {
		s.ResponseTimeout = Duration(multiviewer.DefaultResponseTimeout)
	}
	if s.CommandDelay <= 0 {
		s.CommandDelay = Duration(multiviewer.DefaultCommandDelay)
	}
	if s.PollInterval <= 0 {
		s.PollInterval = Duration(multiviewer.DefaultPollInterval)
	}

	m := &cfg.MQTT
	if m.Port == 0 {
		m.Port = 1883
	}
	if m.RetryInterval == 0 {
		m.RetryInterval = 5
	}
	if m.BaseTopic == "" {
		m.BaseTopic = defaultBaseTopic
	}

	r := &cfg.Roku
	if r.MappingsFile == "" {
		r.MappingsFile = defaultMappingsFile
	}
	if r.Port == 0 {
		r.Port = roku.DefaultPort
	}
	if r.Timeout <= 0 {
		r.Timeout = Duration(5 * time.Second)
	}
	if r.ScanWorkers <= 0 {
		r.ScanWorkers = 20
	}
	if r.ScanLimit <= 0 {
		r.ScanLimit = 10
	}
}

// controllerConfig maps the serial section onto the engine's settings.
func (cfg *Config) controllerConfig() (multiviewer.Config, error) {
	complete, err := multiviewer.ParseMatchers(cfg.Completion)
	if err != nil {
		return multiviewer.Config{}, err
	}
	return multiviewer.Config{
		Target:          cfg.Serial.Device,
		BaudRate:        cfg.Serial.Speed,
		ReadTimeout:     cfg.Serial.ReadTimeout.Std(),
		ResponseTimeout: cfg.Serial.ResponseTimeout.Std(),
		CommandDelay:    cfg.Serial.CommandDelay.Std(),
		PollInterval:    cfg.Serial.PollInterval.Std(),
		Complete:        complete,
	}, nil
}
