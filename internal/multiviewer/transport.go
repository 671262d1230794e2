package multiviewer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the subset of a serial port the controller needs.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port on target at the given baud rate with 8-N-1 framing.
type Opener func(target string, baudRate int, readTimeout time.Duration) (Port, error)

// OpenSerial opens a real serial device.
func OpenSerial(target string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(target, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return port, nil
}

// PortInfo describes a serial device available on the host.
type PortInfo struct {
	Device       string `json:"device"`
	Description  string `json:"description"`
	Manufacturer string `json:"manufacturer"`
}

// commonPorts are checked even when the enumerator does not report them
// (the Raspberry Pi GPIO UART is usually a symlink).
var commonPorts = []string{
	"/dev/serial0",
	"/dev/ttyAMA0",
	"/dev/ttyS0",
	"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2", "/dev/ttyUSB3",
	"/dev/ttyUSB4", "/dev/ttyUSB5", "/dev/ttyUSB6", "/dev/ttyUSB7",
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() []PortInfo {
	found := make(map[string]PortInfo)

	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		for _, d := range details {
			info := PortInfo{
				Device:       d.Name,
				Description:  fmt.Sprintf("Serial Port (%s)", filepath.Base(d.Name)),
				Manufacturer: "Unknown",
			}
			if d.Product != "" {
				info.Description = d.Product
			}
			if d.IsUSB {
				info.Manufacturer = fmt.Sprintf("USB %s:%s", d.VID, d.PID)
			}
			found[d.Name] = info
		}
	}

	for _, p := range commonPorts {
		if _, ok := found[p]; ok {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			found[p] = PortInfo{
				Device:       p,
				Description:  fmt.Sprintf("Serial Port (%s)", filepath.Base(p)),
				Manufacturer: "Unknown",
			}
		}
	}

	ports := make([]PortInfo, 0, len(found))
	for _, info := range found {
		ports = append(ports, info)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Device < ports[j].Device })
	return ports
}
