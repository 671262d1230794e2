package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (env *testEnv) run(_ context.Context, name string, args ...string) ([]byte, error) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.runs = append(env.runs, append([]string{name}, args...))
	if env.runFail {
		return []byte("shutdown: no scheduled shutdown"), errors.New("exit status 1")
	}
	return nil, nil
}

func TestPowerActionRequiresConfirmation(t *testing.T) {
	env := newTestEnv(t, echoReply)

	rec := env.do(http.MethodPost, "/api/system/shutdown", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Shutdown confirmation required", decode(t, rec)["error"])

	rec = env.do(http.MethodPost, "/api/system/restart", `{"confirmed":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Restart confirmation required", decode(t, rec)["error"])

	assert.Empty(t, env.runs)
}

func TestPowerActionSchedulesShutdown(t *testing.T) {
	env := newTestEnv(t, echoReply)

	rec := env.do(http.MethodPost, "/api/system/shutdown", `{"confirmed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(60), body["countdown"])

	rec = env.do(http.MethodPost, "/api/system/restart", `{"confirmed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, [][]string{
		{sudoPath, shutdownPath, "-h", "+1", "Shutdown requested from Orei Control Panel"},
		{sudoPath, shutdownPath, "-r", "+1", "Restart requested from Orei Control Panel"},
	}, env.runs)
}

func TestPowerActionRunnerFailure(t *testing.T) {
	env := newTestEnv(t, echoReply)
	env.runFail = true

	rec := env.do(http.MethodPost, "/api/system/restart", `{"confirmed":true}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestCancelPowerAction(t *testing.T) {
	env := newTestEnv(t, echoReply)

	rec := env.do(http.MethodPost, "/api/system/shutdown/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "System shutdown cancelled", decode(t, rec)["message"])
	assert.Equal(t, []string{sudoPath, shutdownPath, "-c"}, env.runs[0])

	env.runFail = true
	rec = env.do(http.MethodPost, "/api/system/restart/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No pending restart to cancel", decode(t, rec)["error"])

	rec = env.do(http.MethodPost, "/api/system/shutdown/cancel", "")
	assert.Equal(t, "No pending shutdown to cancel", decode(t, rec)["error"])
}

func TestReadSystemStats(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("uptime", "93784.51 180000.02\n")
	write("loadavg", "0.52 0.41 0.30 1/312 4242\n")
	write("meminfo", "MemTotal:        3884096 kB\nMemFree:          102400 kB\nMemAvailable:    2835456 kB\n")

	stats := readSystemStats(dir)
	assert.Equal(t, "up 1 day, 2 hours, 3 minutes", stats.Uptime)
	assert.Equal(t, 0.52, stats.LoadAvg1)
	assert.Equal(t, 0.41, stats.LoadAvg5)
	assert.Equal(t, 0.30, stats.LoadAvg15)
	assert.InDelta(t, 3793.0625, stats.MemoryTotal, 0.001)
	assert.InDelta(t, 1024.0625, stats.MemoryUsed, 0.001)
	assert.Positive(t, stats.CPUCount)
}

func TestReadSystemStatsMissingProc(t *testing.T) {
	stats := readSystemStats(filepath.Join(t.TempDir(), "absent"))
	assert.Empty(t, stats.Uptime)
	assert.Zero(t, stats.MemoryTotal)
	assert.Positive(t, stats.CPUCount)
}

func TestSystemStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, echoReply)
	env.app.procDir = t.TempDir()

	body := decode(t, env.do(http.MethodGet, "/api/system/stats", ""))
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "stats")
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "up 0 minutes", formatUptime(30*time.Second))
	assert.Equal(t, "up 1 minute", formatUptime(time.Minute))
	assert.Equal(t, "up 5 hours", formatUptime(5*time.Hour))
	assert.Equal(t, "up 2 days, 1 minute", formatUptime(48*time.Hour+time.Minute))
}
