package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"orei-control/internal/history"
	"orei-control/internal/storage"
)

const (
	defaultHistoryLimit = 25
	commandRateLimit    = 30
	commandRateWindow   = 10 * time.Second
)

func (app *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", app.handleIndex)
	mux.HandleFunc("/ws", app.handleWebSocket)

	mux.HandleFunc("/api/command", app.handleCommand)
	mux.HandleFunc("/api/status", app.handleStatus)
	mux.HandleFunc("/api/history", app.handleHistory)
	mux.HandleFunc("/api/config/serial", app.handleSerialConfig)

	mux.HandleFunc("/api/roku/discover", app.handleRokuDiscover)
	mux.HandleFunc("/api/roku/mappings", app.handleRokuMappings)
	mux.HandleFunc("/api/roku/command", app.handleRokuCommand)
	mux.HandleFunc("/api/roku/apps/", app.handleRokuApps)
	mux.HandleFunc("/api/roku/launch", app.handleRokuLaunch)

	mux.HandleFunc("/api/system/shutdown", app.handlePowerAction(shutdownAction))
	mux.HandleFunc("/api/system/shutdown/cancel", app.handleCancelPowerAction(shutdownAction))
	mux.HandleFunc("/api/system/restart", app.handlePowerAction(restartAction))
	mux.HandleFunc("/api/system/restart/cancel", app.handleCancelPowerAction(restartAction))
	mux.HandleFunc("/api/system/stats", app.handleSystemStats)

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})

	// Serve static files
	staticDir := filepath.Join(app.webDir, "static")
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (app *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}
	http.ServeFile(w, r, filepath.Join(app.webDir, "static", "index.html"))
}

func (app *App) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !app.limiter.Allow(clientIP(r), commandRateLimit, commandRateWindow) {
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var req struct {
		Command string `json:"command"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	command := sanitizeInput(req.Command)
	if command == "" {
		writeError(w, http.StatusBadRequest, "No command provided")
		return
	}
	if err := validateCommand(command); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := app.controller.Send(r.Context(), command)
	if err != nil {
		log.Printf("Error processing command %q: %v", command, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"command":  command,
		"response": response,
	})
}

func (app *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	status := app.refreshStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"connected": status.Connected,
		"port":      status.Port,
		"power_on":  status.PowerOn,
	})
}

func (app *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries := app.history.Read(historyLimit(r.URL.Query().Get("limit")))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"count":   len(entries),
			"history": entries,
		})
	case http.MethodDelete:
		app.history.Clear()
		log.Println("Command history cleared")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Command history cleared",
		})
	default:
		methodNotAllowed(w)
	}
}

// historyLimit parses the ?limit= value: default 25, at most the ring capacity.
func historyLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > history.Capacity {
		return history.Capacity
	}
	return limit
}

func (app *App) handleSerialConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":         true,
			"current_port":    app.controller.Target(),
			"baud_rate":       app.controller.BaudRate(),
			"connected":       app.controller.Connected(),
			"available_ports": app.listPorts(),
		})
	case http.MethodPost:
		app.updateSerialConfig(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (app *App) updateSerialConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port     string `json:"port"`
		BaudRate int    `json:"baud_rate"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	port := strings.TrimSpace(req.Port)
	if port == "" {
		writeError(w, http.StatusBadRequest, "Serial port is required")
		return
	}
	if !app.portExists(port) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Serial port %s does not exist", port))
		return
	}
	if req.BaudRate < 0 {
		writeError(w, http.StatusBadRequest, "Invalid baud rate")
		return
	}

	baud := req.BaudRate
	if baud == 0 {
		baud = app.controller.BaudRate()
	}
	if err := app.settings.Save(storage.SerialSettings{SerialPort: port, BaudRate: baud}); err != nil {
		log.Printf("Error saving config: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save configuration")
		return
	}

	connected := app.controller.UpdateTarget(port, baud)
	app.refreshConnection()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   fmt.Sprintf("Serial port updated to %s", port),
		"connected": connected,
		"port":      port,
	})
}

// decodeBody decodes a JSON request body, treating an empty body as an empty object.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
