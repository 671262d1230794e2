package storage

import (
	"errors"
	"os"
	"sync"
)

// SerialSettings is the operator-chosen serial target, kept across restarts.
type SerialSettings struct {
	SerialPort string `json:"serial_port"`
	BaudRate   int    `json:"baud_rate"`
}

// SettingsFile guards one settings document on disk.
type SettingsFile struct {
	mu   sync.Mutex
	path string
}

func NewSettingsFile(path string) *SettingsFile {
	return &SettingsFile{path: path}
}

func (f *SettingsFile) Path() string {
	return f.path
}

// Load overlays the saved settings on defaults. A missing file is not an error;
// found reports whether one was read.
func (f *SettingsFile) Load(defaults SerialSettings) (s SerialSettings, found bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	saved := defaults
	if err := ReadJSON(f.path, &saved); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, false, nil
		}
		return defaults, false, err
	}
	if saved.SerialPort == "" {
		saved.SerialPort = defaults.SerialPort
	}
	if saved.BaudRate <= 0 {
		saved.BaudRate = defaults.BaudRate
	}
	return saved, true, nil
}

// Save replaces the document on disk.
func (f *SettingsFile) Save(s SerialSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return WriteJSON(f.path, s)
}
