package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"orei-control/internal/history"
	"orei-control/internal/multiviewer"
	"orei-control/internal/roku"
	"orei-control/internal/storage"
)

func main() {
	// Parse command line flags
	configFile := flag.String("config", "config.xml", "Path to configuration file")
	suppressTimestamp := flag.Bool("no-timestamp", false, "Suppress timestamps in log output")
	webDir := flag.String("webdir", "", "Directory containing the 'static' web UI (overrides config)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	configRequired := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configRequired = true
		}
	})

	if *suppressTimestamp {
		log.SetFlags(0)
	}

	cfg, err := loadConfig(*configFile, configRequired)
	if err != nil {
		log.Fatalf("Failed to load config from '%s': %v", *configFile, err)
	}
	if cfg.SuppressTimestamp {
		log.SetFlags(0)
	}
	if *webDir != "" {
		cfg.Server.WebDir = *webDir
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	app, err := newApp(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Try to connect to the multiviewer on startup
	if app.controller.Connect() {
		log.Println("Successfully connected to Orei device")
	} else {
		log.Println("Could not connect to serial port on startup")
	}

	if cfg.MQTT.Broker != "" {
		go func() {
			if err := app.connectMQTTWithRetry(ctx); err != nil {
				log.Printf("MQTT bridge disabled: %v", err)
			}
		}()
	}

	if cfg.Serial.StatusInterval > 0 {
		go app.runStatusPoller(ctx, cfg.Serial.StatusInterval.Std())
	}

	app.server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Using web directory: %s", app.webDir)
		log.Printf("Starting server on %s", cfg.Server.Listen)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	app.shutdown()
}

// newApp wires the engine and its collaborators. A nil open uses the real serial port.
func newApp(cfg Config, open multiviewer.Opener) (*App, error) {
	app := &App{
		config:     cfg,
		settings:   storage.NewSettingsFile(cfg.SettingsFile),
		limiter:    NewRateLimiter(),
		runner:     execRunner,
		procDir:    "/proc",
		webDir:     cfg.Server.WebDir,
		listPorts:  multiviewer.ListPorts,
		portExists: fileExists,
		wsClients:  make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	app.history = history.NewRing(cfg.HistorySize, app.onExchange)

	// Saved settings from the web UI win over the XML config.
	saved, found, err := app.settings.Load(storage.SerialSettings{
		SerialPort: cfg.Serial.Device,
		BaudRate:   cfg.Serial.Speed,
	})
	if err != nil {
		log.Printf("Error loading config from %s: %v", app.settings.Path(), err)
	} else if found {
		log.Printf("Loaded configuration from %s: %s", app.settings.Path(), saved.SerialPort)
	}

	ctrlCfg, err := cfg.controllerConfig()
	if err != nil {
		return nil, err
	}
	ctrlCfg.Target = saved.SerialPort
	ctrlCfg.BaudRate = saved.BaudRate
	ctrlCfg.Open = open
	app.controller = multiviewer.New(ctrlCfg, app.history)

	app.roku = roku.NewClient(cfg.Roku.Timeout.Std())
	app.roku.Port = cfg.Roku.Port
	app.discoverer = roku.NewDiscoverer(app.roku, nil)
	app.discoverer.ScanWorkers = cfg.Roku.ScanWorkers
	app.discoverer.ScanLimit = cfg.Roku.ScanLimit
	app.mappings = roku.NewMappingStore(cfg.Roku.MappingsFile, nil)

	app.status = MultiviewerStatus{Port: app.controller.Target()}
	return app, nil
}

func (app *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if app.server != nil {
		if err := app.server.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}
	app.controller.Disconnect()
	app.history.Close()
	app.disconnectMQTT()
	app.closeWebSockets()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
