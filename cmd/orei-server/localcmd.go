package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// CommandRunner runs a host command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	log.Printf("Executing local command: %s %s", name, strings.Join(args, " "))
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

const (
	sudoPath     = "/usr/bin/sudo"
	shutdownPath = "/usr/sbin/shutdown"
)

type powerAction struct {
	name     string // shutdown or restart
	flag     string // shutdown(8) mode flag
	started  string
	reason   string
	canceled string
}

var (
	shutdownAction = powerAction{
		name:     "shutdown",
		flag:     "-h",
		started:  "System shutdown initiated. The device will power off in 1 minute.",
		reason:   "Shutdown requested from Orei Control Panel",
		canceled: "System shutdown cancelled",
	}
	restartAction = powerAction{
		name:     "restart",
		flag:     "-r",
		started:  "System restart initiated. The device will restart in 1 minute.",
		reason:   "Restart requested from Orei Control Panel",
		canceled: "System restart cancelled",
	}
)

func (app *App) handlePowerAction(action powerAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		var req struct {
			Confirmed bool `json:"confirmed"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if !req.Confirmed {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s confirmation required", capitalize(action.name)))
			return
		}

		log.Printf("System %s requested via web interface", action.name)

		// shutdown(8) only schedules the action, so the request returns before it happens.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if output, err := app.runner(ctx, sudoPath, shutdownPath, action.flag, "+1", action.reason); err != nil {
			log.Printf("Failed to initiate system %s: %v, Output: %s", action.name, err, strings.TrimSpace(string(output)))
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to initiate %s: %v", action.name, err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"message":   action.started,
			"countdown": 60,
		})
	}
}

func (app *App) handleCancelPowerAction(action powerAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if _, err := app.runner(ctx, sudoPath, shutdownPath, "-c"); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("No pending %s to cancel", action.name))
			return
		}

		log.Printf("System %s cancelled via web interface", action.name)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": action.canceled,
		})
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (app *App) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   readSystemStats(app.procDir),
	})
}

// readSystemStats reads uptime, load and memory from a procfs mount.
// Missing files leave the corresponding fields zero.
func readSystemStats(procDir string) SystemStats {
	stats := SystemStats{CPUCount: runtime.NumCPU()}

	if data, err := os.ReadFile(filepath.Join(procDir, "uptime")); err == nil {
		if fields := strings.Fields(string(data)); len(fields) > 0 {
			if secs, err := strconv.ParseFloat(fields[0], 64); err == nil {
				stats.Uptime = formatUptime(time.Duration(secs) * time.Second)
			}
		}
	}

	if data, err := os.ReadFile(filepath.Join(procDir, "loadavg")); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 3 {
			stats.LoadAvg1, _ = strconv.ParseFloat(fields[0], 64)
			stats.LoadAvg5, _ = strconv.ParseFloat(fields[1], 64)
			stats.LoadAvg15, _ = strconv.ParseFloat(fields[2], 64)
		}
	}

	if f, err := os.Open(filepath.Join(procDir, "meminfo")); err == nil {
		defer f.Close()
		var totalKB, availableKB float64
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) < 2 {
				continue
			}
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				continue
			}
			switch fields[0] {
			case "MemTotal:":
				totalKB = v
			case "MemAvailable:":
				availableKB = v
			}
		}
		// MB, like free -m
		stats.MemoryTotal = totalKB / 1024
		stats.MemoryUsed = (totalKB - availableKB) / 1024
	}

	return stats
}

// formatUptime renders a duration the way `uptime -p` does.
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	add := func(n int, unit string) {
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", unit))
		} else if n > 1 {
			parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
		}
	}
	add(days, "day")
	add(hours, "hour")
	add(minutes, "minute")
	if len(parts) == 0 {
		return "up 0 minutes"
	}
	return "up " + strings.Join(parts, ", ")
}
