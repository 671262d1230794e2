package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"orei-control/internal/history"
)

const wsWriteTimeout = 5 * time.Second

func (app *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := app.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	app.wsMutex.Lock()
	app.wsClients[conn] = true

	// Send current status and recent exchanges to the new client
	app.writeMessage(conn, WebSocketMessage{Type: "status_update", Data: app.currentStatus()})
	for _, entry := range app.history.Read(defaultHistoryLimit) {
		app.writeMessage(conn, WebSocketMessage{Type: "exchange", Data: entry})
	}
	app.wsMutex.Unlock()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			app.wsMutex.Lock()
			delete(app.wsClients, conn)
			app.wsMutex.Unlock()
			break
		}
	}
}

// writeMessage must be called with wsMutex held; gorilla connections allow one writer.
func (app *App) writeMessage(conn *websocket.Conn, message WebSocketMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(message)
}

func (app *App) broadcast(message WebSocketMessage) {
	app.wsMutex.Lock()
	defer app.wsMutex.Unlock()

	for client := range app.wsClients {
		if err := app.writeMessage(client, message); err != nil {
			log.Printf("Error sending WebSocket message: %v", err)
			client.Close()
			delete(app.wsClients, client)
		}
	}
}

func (app *App) closeWebSockets() {
	app.wsMutex.Lock()
	defer app.wsMutex.Unlock()

	for client := range app.wsClients {
		client.Close()
		delete(app.wsClients, client)
	}
}

// onExchange fans every recorded exchange out to browsers and the MQTT bridge.
func (app *App) onExchange(entry history.Entry) {
	app.broadcast(WebSocketMessage{Type: "exchange", Data: entry})
	app.publishMQTT("exchange", false, entry)
}
