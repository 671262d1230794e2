package main

import (
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	maxCommandLength = 256
	hdmiInputs       = 4
)

var (
	rokuKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_%.-]+$`)
)

// Input validation functions
func validateCommand(command string) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if len(command) > maxCommandLength {
		return fmt.Errorf("command too long (max %d characters)", maxCommandLength)
	}
	for _, r := range command {
		if unicode.IsControl(r) {
			return fmt.Errorf("command contains control characters")
		}
	}
	return nil
}

func validateHDMI(hdmi string) error {
	n, err := strconv.Atoi(hdmi)
	if err != nil || n < 1 || n > hdmiInputs {
		return fmt.Errorf("invalid HDMI input %q (allowed: 1-%d)", hdmi, hdmiInputs)
	}
	return nil
}

func validateRokuKey(key string) error {
	if !rokuKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid Roku command %q", key)
	}
	return nil
}

func sanitizeInput(input string) string {
	// Only the ends are trimmed; the device sees the rest as typed.
	return strings.TrimSpace(input)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimiter is a sliding-window request counter per client.
type RateLimiter struct {
	requests map[string][]time.Time
	mutex    sync.Mutex
	now      func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(clientIP string, maxRequests int, timeWindow time.Duration) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	cutoff := now.Add(-timeWindow)

	// Remove old requests
	var validRequests []time.Time
	for _, reqTime := range rl.requests[clientIP] {
		if reqTime.After(cutoff) {
			validRequests = append(validRequests, reqTime)
		}
	}

	if len(validRequests) >= maxRequests {
		rl.requests[clientIP] = validRequests
		return false
	}

	rl.requests[clientIP] = append(validRequests, now)
	return true
}
