package main

import (
	"context"
	"log"
	"time"
)

// runStatusPoller queries the power state every interval until ctx is cancelled.
func (app *App) runStatusPoller(ctx context.Context, interval time.Duration) {
	log.Printf("Starting multiviewer status polling (interval: %v)", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, interval)
			app.refreshStatus(pollCtx)
			cancel()
		case <-ctx.Done():
			log.Println("Stopped multiviewer status polling")
			return
		}
	}
}

// refreshStatus asks the device for its power state. Engine errors only mean the
// power state is unknown, reported as off.
func (app *App) refreshStatus(ctx context.Context) MultiviewerStatus {
	powerOn, _, err := app.controller.PowerStatus(ctx)
	if err != nil {
		log.Printf("Power status query failed: %v", err)
	}

	return app.setStatus(MultiviewerStatus{
		Connected: app.controller.Connected(),
		Port:      app.controller.Target(),
		PowerOn:   powerOn,
	})
}

// refreshConnection updates the connection fields without talking to the device.
func (app *App) refreshConnection() MultiviewerStatus {
	current := app.currentStatus()
	current.Connected = app.controller.Connected()
	current.Port = app.controller.Target()
	return app.setStatus(current)
}

func (app *App) currentStatus() MultiviewerStatus {
	app.statusMutex.RLock()
	defer app.statusMutex.RUnlock()
	return app.status
}

// setStatus stores the new status and announces it when anything changed.
func (app *App) setStatus(next MultiviewerStatus) MultiviewerStatus {
	next.LastUpdate = time.Now().Format(time.RFC3339)

	app.statusMutex.Lock()
	previous := app.status
	app.status = next
	app.statusMutex.Unlock()

	if previous.Connected != next.Connected || previous.Port != next.Port || previous.PowerOn != next.PowerOn {
		log.Printf("Multiviewer status changed: connected=%v port=%s power_on=%v",
			next.Connected, next.Port, next.PowerOn)
		app.broadcast(WebSocketMessage{Type: "status_update", Data: next})
		app.publishMQTT("status", true, next)
	}
	return next
}
