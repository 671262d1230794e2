package main

import (
	"os"
	"strings"
	"sync"
	"time"

	"orei-control/internal/multiviewer"
)

// replayPort stands in for the device in dry-run mode: every write is answered with
// the next captured response.
type replayPort struct {
	mu        sync.Mutex
	responses []string
	pending   []byte
}

func loadReplay(filename string) (*replayPort, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\r\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return &replayPort{responses: lines}, nil
}

func (p *replayPort) open(string, int, time.Duration) (multiviewer.Port, error) {
	return p, nil
}

func (p *replayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) > 0 {
		// an empty captured line is a silent device
		if next := p.responses[0]; next != "" {
			p.pending = append(p.pending, next+"\r\n"...)
		}
		p.responses = p.responses[1:]
	}
	return len(b), nil
}

func (p *replayPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *replayPort) ResetInputBuffer() error { return nil }

func (p *replayPort) SetReadTimeout(time.Duration) error { return nil }

func (p *replayPort) Close() error { return nil }
