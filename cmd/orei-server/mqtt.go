package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const mqttPublishTimeout = 2 * time.Second

// RemoteCommand is a command received on <baseTopic>/command/set. The payload is either
// plain command text or a JSON object with an optional correlation id.
type RemoteCommand struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

// RemoteResult is published on <baseTopic>/command/result.
type RemoteResult struct {
	ID       string `json:"id"`
	Success  bool   `json:"success"`
	Command  string `json:"command"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (app *App) connectMQTTWithRetry(ctx context.Context) error {
	retryCount := 0

	for {
		err := app.connectMQTT()
		if err == nil {
			return nil
		}

		retryCount++

		// Check if we've exceeded max retries (0 means infinite)
		if app.config.MQTT.MaxRetries > 0 && retryCount >= app.config.MQTT.MaxRetries {
			return fmt.Errorf("failed to connect to MQTT after %d attempts: %v", retryCount, err)
		}

		log.Printf("Failed to connect to MQTT (attempt %d): %v", retryCount, err)
		log.Printf("Waiting %d seconds before retry...", app.config.MQTT.RetryInterval)

		select {
		case <-time.After(time.Duration(app.config.MQTT.RetryInterval) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (app *App) connectMQTT() error {
	cfg := app.config.MQTT

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "orei-control-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Duration(cfg.RetryInterval) * time.Second)
	opts.SetWill(app.topic("online"), "false", 1, true)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	})

	// Subscriptions are lost with the session, so they are made on every connect.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("Connected to MQTT broker")
		client.Publish(app.topic("online"), 1, true, "true")
		app.subscribeToCommands(client)
	})

	client := mqtt.NewClient(opts)

	log.Printf("Attempting to connect to MQTT broker at %s...", broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	app.mqttMutex.Lock()
	app.mqttClient = client
	app.mqttMutex.Unlock()
	return nil
}

func (app *App) disconnectMQTT() {
	app.mqttMutex.Lock()
	defer app.mqttMutex.Unlock()

	if app.mqttClient == nil {
		return
	}
	if app.mqttClient.IsConnected() {
		token := app.mqttClient.Publish(app.topic("online"), 1, true, "false")
		token.WaitTimeout(mqttPublishTimeout)
	}
	app.mqttClient.Disconnect(250)
	app.mqttClient = nil
	log.Println("Disconnected from MQTT broker")
}

func (app *App) topic(suffix string) string {
	return strings.TrimSuffix(app.config.MQTT.BaseTopic, "/") + "/" + suffix
}

func (app *App) subscribeToCommands(client mqtt.Client) {
	topic := app.topic("command/set")
	token := client.Subscribe(topic, 1, func(client mqtt.Client, msg mqtt.Message) {
		// The exchange can take seconds; paho's router must not be held that long.
		go app.handleMQTTCommand(client, msg.Payload())
	})

	if token.Wait() && token.Error() != nil {
		log.Printf("Failed to subscribe to %s: %v", topic, token.Error())
	} else {
		log.Printf("Subscribed to command topic: %s", topic)
	}
}

func (app *App) handleMQTTCommand(client mqtt.Client, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := app.runRemoteCommand(ctx, payload)
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("Failed to encode MQTT command result: %v", err)
		return
	}

	token := client.Publish(app.topic("command/result"), 1, false, data)
	if token.WaitTimeout(mqttPublishTimeout) && token.Error() != nil {
		log.Printf("Failed to publish MQTT command result: %v", token.Error())
	}
}

// runRemoteCommand decodes a command payload and sends it to the multiviewer.
func (app *App) runRemoteCommand(ctx context.Context, payload []byte) RemoteResult {
	req := parseRemoteCommand(payload)
	result := RemoteResult{ID: req.ID, Command: req.Command}

	if req.Command == "" {
		result.Error = "No command provided"
		return result
	}
	if err := validateCommand(req.Command); err != nil {
		result.Error = err.Error()
		return result
	}

	log.Printf("Received MQTT command: %s", req.Command)
	response, err := app.controller.Send(ctx, req.Command)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Response = response
	return result
}

func parseRemoteCommand(payload []byte) RemoteCommand {
	text := strings.TrimSpace(string(payload))

	var req RemoteCommand
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &req) == nil {
		req.Command = sanitizeInput(req.Command)
	} else {
		req = RemoteCommand{Command: sanitizeInput(text)}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req
}

// publishMQTT sends v as JSON on <baseTopic>/<suffix> when the bridge is connected.
func (app *App) publishMQTT(suffix string, retained bool, v interface{}) {
	app.mqttMutex.RLock()
	client := app.mqttClient
	app.mqttMutex.RUnlock()

	if client == nil || !client.IsConnected() {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to encode MQTT message for %s: %v", suffix, err)
		return
	}

	topic := app.topic(suffix)
	token := client.Publish(topic, 0, retained, data)
	if token.WaitTimeout(mqttPublishTimeout) && token.Error() != nil {
		log.Printf("Failed to publish MQTT message to %s: %v", topic, token.Error())
	}
}
