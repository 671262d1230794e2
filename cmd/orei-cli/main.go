package main

import (
	"context"
	"encoding/xml"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"orei-control/internal/multiviewer"
)

// XML configuration structures
type Config struct {
	XMLName xml.Name `xml:"config"`
	Serial  Serial   `xml:"serial"`
	Script  string   `xml:"script"`
}

type Serial struct {
	Device          string `xml:"device,attr"`
	Speed           int    `xml:"speed,attr"`
	ResponseTimeout string `xml:"responseTimeout,attr"`
}

func main() {
	configFile := flag.String("config", "", "XML configuration file with <serial> and <script>")
	device := flag.String("device", "", "Serial device (overrides config)")
	baud := flag.Int("baud", 0, "Baud rate (overrides config)")
	scriptFile := flag.String("script", "", "Script file of send/expect lines")
	timeout := flag.Duration("timeout", 0, "Response timeout per command")
	noTimestamp := flag.Bool("no-timestamp", false, "Disable timestamp in log output")
	dryRun := flag.String("dry-run", "", "Dry run mode: text file with one captured response per line")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if *noTimestamp {
		logger.SetFlags(0)
	}

	var config Config
	if *configFile != "" {
		c, err := parseConfig(*configFile)
		if err != nil {
			logger.Fatalf("Failed to parse config: %v", err)
		}
		config = *c
	}
	if *device != "" {
		config.Serial.Device = *device
	}
	if *baud > 0 {
		config.Serial.Speed = *baud
	}

	scriptText := config.Script
	if *scriptFile != "" {
		data, err := os.ReadFile(*scriptFile)
		if err != nil {
			logger.Fatalf("Failed to read script: %v", err)
		}
		scriptText = string(data)
	}

	var steps []Step
	switch {
	case flag.NArg() > 0:
		for _, arg := range flag.Args() {
			steps = append(steps, Step{Op: opSend, Value: arg})
		}
	case strings.TrimSpace(scriptText) != "":
		var err error
		if steps, err = parseScript(scriptText); err != nil {
			logger.Fatalf("Failed to parse script: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Usage: %s [-config <xml-file>] [-device <dev>] [-baud <rate>] [-script <file>] [-dry-run <capture>] [command ...]\n", os.Args[0])
		os.Exit(1)
	}

	cfg := multiviewer.Config{
		Target:          config.Serial.Device,
		BaudRate:        config.Serial.Speed,
		ResponseTimeout: *timeout,
		Logger:          logger,
	}
	if cfg.ResponseTimeout == 0 && config.Serial.ResponseTimeout != "" {
		d, err := time.ParseDuration(config.Serial.ResponseTimeout)
		if err != nil {
			logger.Fatalf("Invalid responseTimeout %q: %v", config.Serial.ResponseTimeout, err)
		}
		cfg.ResponseTimeout = d
	}

	if *dryRun != "" {
		logger.Printf("Running in dry-run mode with input file: %s", *dryRun)
		port, err := loadReplay(*dryRun)
		if err != nil {
			logger.Fatalf("Dry run failed: %v", err)
		}
		cfg.Open = port.open
	}

	ctrl := multiviewer.New(cfg, nil)
	if !ctrl.Connect() {
		logger.Fatalf("Failed to open serial port %s", ctrl.Target())
	}
	defer ctrl.Disconnect()

	runner := &Runner{Controller: ctrl, Logger: logger, Out: os.Stdout}
	if err := runner.Run(context.Background(), steps); err != nil {
		ctrl.Disconnect()
		logger.Fatalf("Script execution failed: %v", err)
	}

	logger.Println("Script completed successfully")
}

func parseConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := xml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
