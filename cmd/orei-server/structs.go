package main

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"orei-control/internal/history"
	"orei-control/internal/multiviewer"
	"orei-control/internal/roku"
	"orei-control/internal/storage"
)

// Configuration structures
type Config struct {
	XMLName           xml.Name     `xml:"config"`
	SuppressTimestamp bool         `xml:"suppressTimestamp,attr"`
	HistorySize       int          `xml:"historySize,attr"`
	Server            ServerConfig `xml:"server"`
	Serial            SerialConfig `xml:"serial"`
	Completion        []string     `xml:"completion>pattern"`
	MQTT              MQTTConfig   `xml:"mqtt"`
	Roku              RokuConfig   `xml:"roku"`
	SettingsFile      string       `xml:"settingsFile"`
}

type ServerConfig struct {
	Listen string `xml:"listen,attr"`
	WebDir string `xml:"webdir,attr"`
}

type SerialConfig struct {
	Device          string   `xml:"device,attr"`
	Speed           int      `xml:"speed,attr"`
	ReadTimeout     Duration `xml:"readTimeout,attr"`
	ResponseTimeout Duration `xml:"responseTimeout,attr"`
	CommandDelay    Duration `xml:"commandDelay,attr"`
	PollInterval    Duration `xml:"pollInterval,attr"`
	StatusInterval  Duration `xml:"statusInterval,attr"` // 0 disables the status poller
}

type MQTTConfig struct {
	Broker        string `xml:"broker,attr"` // empty disables the bridge
	Port          int    `xml:"port,attr"`
	Username      string `xml:"username,attr"`
	Password      string `xml:"password,attr"`
	ClientID      string `xml:"clientId,attr"`
	BaseTopic     string `xml:"baseTopic,attr"`
	RetryInterval int    `xml:"retryInterval,attr"` // seconds between connection attempts
	MaxRetries    int    `xml:"maxRetries,attr"`    // 0 = infinite retries
}

type RokuConfig struct {
	MappingsFile string   `xml:"mappingsFile,attr"`
	Port         int      `xml:"port,attr"`
	Timeout      Duration `xml:"timeout,attr"`
	ScanWorkers  int      `xml:"scanWorkers,attr"`
	ScanLimit    int      `xml:"scanLimit,attr"`
}

// Duration is a time.Duration read from an XML attribute such as "200ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(attr.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q for %s: %v", attr.Value, attr.Name.Local, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Runtime structures
type MultiviewerStatus struct {
	Connected  bool   `json:"connected"`
	Port       string `json:"port"`
	PowerOn    bool   `json:"power_on"`
	LastUpdate string `json:"last_update"`
}

type SystemStats struct {
	Uptime      string  `json:"uptime"`
	LoadAvg1    float64 `json:"loadAvg1"`
	LoadAvg5    float64 `json:"loadAvg5"`
	LoadAvg15   float64 `json:"loadAvg15"`
	MemoryUsed  float64 `json:"memoryUsed"`
	MemoryTotal float64 `json:"memoryTotal"`
	CPUCount    int     `json:"cpuCount"`
}

type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Application state
type App struct {
	config     Config
	controller *multiviewer.Controller
	history    *history.Ring
	settings   *storage.SettingsFile
	mappings   *roku.MappingStore
	roku       *roku.Client
	discoverer *roku.Discoverer
	limiter    *RateLimiter
	runner     CommandRunner
	procDir    string
	webDir     string

	// listPorts and portExists are swapped out in tests.
	listPorts  func() []multiviewer.PortInfo
	portExists func(path string) bool

	mqttClient mqtt.Client
	mqttMutex  sync.RWMutex

	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex
	wsUpgrader websocket.Upgrader

	status      MultiviewerStatus
	statusMutex sync.RWMutex

	server *http.Server
}
