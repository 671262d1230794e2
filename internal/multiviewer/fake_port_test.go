package multiviewer

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"
)

// eventLog captures writes and history records in the order they happened.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// Record makes eventLog a Recorder.
func (l *eventLog) Record(command, response string) {
	l.add("record " + command)
}

// fakePort simulates the multiviewer: every write queues the reply bytes returned by
// reply, which are then handed out by Read.
type fakePort struct {
	mu       sync.Mutex
	input    []byte
	writes   []string
	resets   int
	closed   bool
	writeErr error
	readErr  error

	// stall makes an empty Read block for the whole read timeout, like a real port.
	stall    bool
	timeouts []time.Duration

	reply   func(cmd string) string
	events  *eventLog
	written chan string
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.writeErr != nil {
		p.mu.Unlock()
		return 0, p.writeErr
	}
	cmd := string(b)
	p.writes = append(p.writes, cmd)
	if p.events != nil {
		p.events.add("write " + cmd)
	}
	if p.reply != nil {
		p.input = append(p.input, p.reply(cmd)...)
	}
	p.mu.Unlock()

	if p.written != nil {
		p.written <- cmd
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		p.mu.Unlock()
		return 0, p.readErr
	}
	if len(p.input) == 0 {
		wait := time.Millisecond
		if p.stall && len(p.timeouts) > 0 {
			wait = p.timeouts[len(p.timeouts)-1]
		}
		p.mu.Unlock()
		time.Sleep(wait)
		return 0, nil
	}
	n := copy(b, p.input)
	p.input = p.input[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = nil
	p.resets++
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *fakePort) longestTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var longest time.Duration
	for _, t := range p.timeouts {
		if t > longest {
			longest = t
		}
	}
	return longest
}

func (p *fakePort) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) queue(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = append(p.input, s...)
}

// fakeOpener hands out ports from newPort and counts open calls.
type fakeOpener struct {
	mu      sync.Mutex
	opens   int
	targets []string
	fail    map[string]bool
	newPort func() *fakePort
	ports   []*fakePort
}

func (o *fakeOpener) open(target string, baudRate int, readTimeout time.Duration) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	o.targets = append(o.targets, target)
	if o.fail[target] {
		return nil, errors.New("no such file or directory")
	}
	p := o.newPort()
	o.ports = append(o.ports, p)
	return p, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// singlePort reopens the same fake port every time.
func singlePort(p *fakePort) *fakeOpener {
	return &fakeOpener{newPort: func() *fakePort {
		p.mu.Lock()
		p.closed = false
		p.mu.Unlock()
		return p
	}}
}

func testConfig(o *fakeOpener) Config {
	return Config{
		Target:          "/dev/ttyFAKE0",
		BaudRate:        115200,
		ReadTimeout:     5 * time.Millisecond,
		ResponseTimeout: 100 * time.Millisecond,
		CommandDelay:    time.Millisecond,
		PollInterval:    time.Millisecond,
		Open:            o.open,
		Logger:          log.New(io.Discard, "", 0),
	}
}
