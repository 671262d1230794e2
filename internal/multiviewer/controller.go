// Package multiviewer drives the Orei HDMI multiviewer over its RS-232 command set.
//
// The device speaks a half-duplex, line-oriented text protocol: commands end with '!'
// and replies carry no end-of-response marker. A Controller serializes every exchange
// through a single gate, infers the end of a reply with a Matcher and reconnects on the
// next call after any transport failure.
package multiviewer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	DefaultTarget          = "/dev/serial0"
	DefaultBaudRate        = 115200
	DefaultReadTimeout     = 2 * time.Second
	DefaultResponseTimeout = 2 * time.Second
	DefaultCommandDelay    = 200 * time.Millisecond
	DefaultPollInterval    = 10 * time.Millisecond
)

// Recorder receives every completed exchange.
type Recorder interface {
	Record(command, response string)
}

// Config holds the connection parameters and protocol timings.
type Config struct {
	Target   string
	BaudRate int

	// ReadTimeout bounds each individual read on the port.
	ReadTimeout time.Duration
	// ResponseTimeout bounds the whole poll loop of one exchange.
	ResponseTimeout time.Duration
	// CommandDelay is the settle delay between the write and the first read.
	CommandDelay time.Duration
	// PollInterval is how long to sleep when no bytes are available.
	PollInterval time.Duration

	Complete Matcher
	Open     Opener
	Logger   *log.Logger
}

func (cfg *Config) setDefaults() {
	if cfg.Target == "" {
		cfg.Target = DefaultTarget
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.CommandDelay <= 0 {
		cfg.CommandDelay = DefaultCommandDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Complete == nil {
		cfg.Complete = DefaultMatcher()
	}
	if cfg.Open == nil {
		cfg.Open = OpenSerial
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
}

// Controller owns the serial connection to one multiviewer.
type Controller struct {
	cfg     Config
	history Recorder
	logger  *log.Logger

	// gate is a one-slot semaphore held for a whole exchange and for every
	// connect/disconnect, so the port is never closed under a running exchange.
	gate chan struct{}

	mu       sync.Mutex
	target   string
	baudRate int
	port     Port

	connected atomic.Bool
}

// New creates a disconnected Controller. history may be nil.
func New(cfg Config, history Recorder) *Controller {
	cfg.setDefaults()
	return &Controller{
		cfg:      cfg,
		history:  history,
		logger:   cfg.Logger,
		gate:     make(chan struct{}, 1),
		target:   cfg.Target,
		baudRate: cfg.BaudRate,
	}
}

func (c *Controller) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) release() {
	<-c.gate
}

// Connected reports the last known connection state without waiting on the gate.
func (c *Controller) Connected() bool {
	return c.connected.Load()
}

// Target returns the configured serial device.
func (c *Controller) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// BaudRate returns the configured baud rate.
func (c *Controller) BaudRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baudRate
}

// Connect opens the port, closing any handle that is still open.
func (c *Controller) Connect() bool {
	c.gate <- struct{}{}
	defer c.release()
	return c.connectLocked()
}

// connectLocked must be called with the gate held.
func (c *Controller) connectLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closePortLocked()

	port, err := c.cfg.Open(c.target, c.baudRate, c.cfg.ReadTimeout)
	if err != nil {
		c.connected.Store(false)
		c.logger.Printf("Failed to connect to serial port %s: %v", c.target, err)
		return false
	}

	c.port = port
	c.connected.Store(true)
	c.logger.Printf("Connected to serial port %s at %d baud", c.target, c.baudRate)
	return true
}

// Disconnect closes the port. It is a no-op when already closed.
func (c *Controller) Disconnect() {
	c.gate <- struct{}{}
	defer c.release()
	c.disconnectLocked()
}

func (c *Controller) disconnectLocked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closePortLocked() {
		c.logger.Printf("Disconnected from serial port %s", c.target)
	}
	c.connected.Store(false)
}

// closePortLocked must be called with mu held.
func (c *Controller) closePortLocked() bool {
	if c.port == nil {
		return false
	}
	if err := c.port.Close(); err != nil {
		c.logger.Printf("Error closing serial port %s: %v", c.target, err)
	}
	c.port = nil
	return true
}

// UpdateTarget switches to a new device and reconnects. A baudRate of zero keeps the
// current rate. It returns the resulting connection state.
func (c *Controller) UpdateTarget(target string, baudRate int) bool {
	c.gate <- struct{}{}
	defer c.release()

	c.disconnectLocked()

	c.mu.Lock()
	c.target = target
	if baudRate > 0 {
		c.baudRate = baudRate
	}
	c.mu.Unlock()

	ok := c.connectLocked()
	status := "failed"
	if ok {
		status = "successful"
	}
	c.logger.Printf("Updated serial port to %s, connection %s", target, status)
	return ok
}

// Send transmits one command and collects the device's reply. A silent device is not an
// error: the response is NoResponse. Cancelling ctx abandons the wait for the gate or
// stops polling early.
func (c *Controller) Send(ctx context.Context, command string) (string, error) {
	command = Normalize(command)

	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	if !c.connected.Load() && !c.connectLocked() {
		return "", ErrNotConnected
	}

	c.mu.Lock()
	port := c.port
	c.mu.Unlock()

	return c.exchange(ctx, port, command)
}

// exchange must be called with the gate held.
func (c *Controller) exchange(ctx context.Context, port Port, command string) (string, error) {
	if err := port.ResetInputBuffer(); err != nil {
		return "", c.fail("reset input buffer", err)
	}

	var lines []string
	defer func() {
		c.record(command, lines)
	}()

	if _, err := port.Write([]byte(command)); err != nil {
		return "", c.fail("write", err)
	}
	c.logger.Printf("TX: %q", command)

	if err := sleepContext(ctx, c.cfg.CommandDelay); err != nil {
		return "", err
	}

	var err error
	lines, err = c.collect(ctx, port)
	if err != nil {
		return "", err
	}
	return joinResponse(lines), nil
}

func (c *Controller) collect(ctx context.Context, port Port) ([]string, error) {
	var lines []string
	lb := lineBuffer{}
	buf := make([]byte, 256)

	// add reports whether the reply is complete.
	add := func(line string) bool {
		if line == "" {
			return false
		}
		c.logger.Printf("RX: %s", line)
		lines = append(lines, line)
		return c.cfg.Complete(line)
	}

	deadline := time.Now().Add(c.cfg.ResponseTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return lines, err
		}

		// No single read may outlast the response window or the caller's deadline.
		if err := port.SetReadTimeout(pollReadTimeout(ctx, c.cfg.ReadTimeout, deadline)); err != nil {
			return lines, c.fail("set read timeout", err)
		}
		n, err := port.Read(buf)
		if err != nil {
			return lines, c.fail("read", err)
		}

		if n == 0 {
			// A quiet read ends a partial line, like a line read timing out.
			if lb.pending() && add(lb.flush()) {
				return lines, nil
			}
			if err := sleepContext(ctx, c.cfg.PollInterval); err != nil {
				return lines, err
			}
			continue
		}

		lb.write(buf[:n])
		for {
			line, ok := lb.next()
			if !ok {
				break
			}
			if add(line) {
				return lines, nil
			}
		}
	}

	if lb.pending() {
		add(lb.flush())
	}
	return lines, nil
}

func pollReadTimeout(ctx context.Context, limit time.Duration, deadline time.Time) time.Duration {
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	timeout := time.Until(deadline)
	if timeout > limit {
		timeout = limit
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return timeout
}

func (c *Controller) fail(op string, err error) error {
	c.connected.Store(false)
	wrapped := fmt.Errorf("%w: %s: %v", ErrTransportFailure, op, err)
	c.logger.Printf("%v", wrapped)
	return wrapped
}

func (c *Controller) record(command string, lines []string) {
	if c.history != nil {
		c.history.Record(command, joinResponse(lines))
	}
}

// PowerStatus sends the power query and reports whether the device answered "power on".
func (c *Controller) PowerStatus(ctx context.Context) (bool, string, error) {
	response, err := c.Send(ctx, PowerQuery)
	if err != nil {
		return false, "", err
	}
	return IsPowerOn(response), response, nil
}

func joinResponse(lines []string) string {
	if len(lines) == 0 {
		return NoResponse
	}
	return strings.Join(lines, " ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
