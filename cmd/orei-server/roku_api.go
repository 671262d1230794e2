package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"orei-control/internal/roku"
)

const rokuDiscoverTimeout = 60 * time.Second

// hdmiInput accepts both 2 and "2" in request bodies.
type hdmiInput string

func (h *hdmiInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*h = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*h = hdmiInput(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("hdmi must be a number or string")
	}
	*h = hdmiInput(n.String())
	return nil
}

func (app *App) handleRokuDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rokuDiscoverTimeout)
	defer cancel()

	devices := app.discoverer.Discover(ctx)
	if devices == nil {
		devices = []roku.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"devices": devices,
	})
}

func (app *App) handleRokuMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"mappings": app.mappings.Load(),
		})
	case http.MethodPost:
		var req struct {
			Mappings roku.Mappings `json:"mappings"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		for hdmi := range req.Mappings {
			if err := validateHDMI(hdmi); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if err := app.mappings.Save(req.Mappings); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save mappings")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Roku mappings saved successfully",
		})
	default:
		methodNotAllowed(w)
	}
}

// mappedDevice resolves an HDMI input to its Roku, writing the error response when
// there is none.
func (app *App) mappedDevice(w http.ResponseWriter, hdmi string) (roku.Device, bool) {
	dev, ok := app.mappings.Lookup(hdmi)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No Roku device mapped to HDMI %s", hdmi))
		return dev, false
	}
	if dev.IP == "" {
		writeError(w, http.StatusBadRequest, "Invalid device mapping")
		return dev, false
	}
	return dev, true
}

func (app *App) handleRokuCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !app.limiter.Allow(clientIP(r), commandRateLimit, commandRateWindow) {
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var req struct {
		HDMI    hdmiInput `json:"hdmi"`
		Command string    `json:"command"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	hdmi, key := string(req.HDMI), strings.TrimSpace(req.Command)
	if hdmi == "" || key == "" {
		writeError(w, http.StatusBadRequest, "HDMI input and command are required")
		return
	}
	if err := validateRokuKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dev, ok := app.mappedDevice(w, hdmi)
	if !ok {
		return
	}

	if err := app.roku.Keypress(r.Context(), dev.IP, key); err != nil {
		log.Printf("Failed to send Roku command %s to %s: %v", key, dev.IP, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "Failed to send command",
		})
		return
	}
	log.Printf("Sent Roku command %s to %s (HDMI %s)", key, dev.IP, hdmi)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Command %s sent to HDMI %s", key, hdmi),
	})
}

func (app *App) handleRokuApps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	hdmi := strings.TrimPrefix(r.URL.Path, "/api/roku/apps/")
	if err := validateHDMI(hdmi); err != nil {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	dev, ok := app.mappedDevice(w, hdmi)
	if !ok {
		return
	}

	apps, err := app.roku.Apps(r.Context(), dev.IP)
	if err != nil {
		log.Printf("Error getting Roku apps from %s: %v", dev.IP, err)
		apps = []roku.App{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"apps":    apps,
	})
}

func (app *App) handleRokuLaunch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		HDMI  hdmiInput `json:"hdmi"`
		AppID string    `json:"app_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	hdmi, appID := string(req.HDMI), strings.TrimSpace(req.AppID)
	if hdmi == "" || appID == "" {
		writeError(w, http.StatusBadRequest, "HDMI input and app_id are required")
		return
	}

	dev, ok := app.mappedDevice(w, hdmi)
	if !ok {
		return
	}

	if err := app.roku.Launch(r.Context(), dev.IP, appID); err != nil {
		log.Printf("Failed to launch Roku app %s on %s: %v", appID, dev.IP, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "Failed to launch app",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("App launched on HDMI %s", hdmi),
	})
}
