// Package roku talks to Roku players through the External Control Protocol (ECP),
// a small HTTP API every player serves on port 8060.
package roku

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultPort = 8060

// Device identifies one Roku player.
type Device struct {
	IP     string `json:"ip"`
	Name   string `json:"name"`
	Model  string `json:"model"`
	Serial string `json:"serial"`
}

// App is a channel installed on a player.
type App struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type deviceInfoXML struct {
	XMLName      xml.Name `xml:"device-info"`
	FriendlyName string   `xml:"friendly-device-name"`
	ModelName    string   `xml:"model-name"`
	SerialNumber string   `xml:"serial-number"`
}

type appsXML struct {
	XMLName xml.Name `xml:"apps"`
	Apps    []struct {
		ID   string `xml:"id,attr"`
		Type string `xml:"type,attr"`
		Name string `xml:",chardata"`
	} `xml:"app"`
}

// Client sends ECP requests.
type Client struct {
	HTTP *http.Client
	Port int

	// ProbeTimeout bounds the reachability check used by network scans.
	ProbeTimeout time.Duration
}

// NewClient returns a client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTP:         &http.Client{Timeout: timeout},
		Port:         DefaultPort,
		ProbeTimeout: time.Second,
	}
}

func (c *Client) url(ip, path string) string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + path
}

func (c *Client) do(ctx context.Context, method, ip, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(ip, path), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}
	return body, nil
}

// DeviceInfo reads the player's identity from /query/device-info.
func (c *Client) DeviceInfo(ctx context.Context, ip string) (*Device, error) {
	body, err := c.do(ctx, http.MethodGet, ip, "/query/device-info")
	if err != nil {
		return nil, err
	}

	var info deviceInfoXML
	if err := xml.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse device info from %s: %w", ip, err)
	}

	dev := &Device{IP: ip, Name: "Unknown Roku", Model: "Unknown", Serial: "Unknown"}
	if s := strings.TrimSpace(info.FriendlyName); s != "" {
		dev.Name = s
	}
	if s := strings.TrimSpace(info.ModelName); s != "" {
		dev.Model = s
	}
	if s := strings.TrimSpace(info.SerialNumber); s != "" {
		dev.Serial = s
	}
	return dev, nil
}

// Probe checks whether ip answers like a Roku and, if so, returns its identity.
func (c *Client) Probe(ctx context.Context, ip string) (*Device, error) {
	if c.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ProbeTimeout)
		defer cancel()
	}

	body, err := c.do(ctx, http.MethodGet, ip, "/")
	if err != nil {
		return nil, err
	}
	if !strings.Contains(strings.ToLower(string(body)), "roku") {
		return nil, fmt.Errorf("%s is not a Roku device", ip)
	}
	return c.DeviceInfo(ctx, ip)
}

// Keypress sends a remote-control key such as "Home", "Select" or "Lit_a".
func (c *Client) Keypress(ctx context.Context, ip, key string) error {
	_, err := c.do(ctx, http.MethodPost, ip, "/keypress/"+url.PathEscape(key))
	return err
}

// Launch starts the channel with the given id.
func (c *Client) Launch(ctx context.Context, ip, appID string) error {
	_, err := c.do(ctx, http.MethodPost, ip, "/launch/"+url.PathEscape(appID))
	return err
}

// Apps lists the channels installed on the player.
func (c *Client) Apps(ctx context.Context, ip string) ([]App, error) {
	body, err := c.do(ctx, http.MethodGet, ip, "/query/apps")
	if err != nil {
		return nil, err
	}

	var doc appsXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse app list from %s: %w", ip, err)
	}

	apps := make([]App, 0, len(doc.Apps))
	for _, a := range doc.Apps {
		app := App{ID: a.ID, Name: strings.TrimSpace(a.Name), Type: a.Type}
		if app.Type == "" {
			app.Type = "appl"
		}
		apps = append(apps, app)
	}
	return apps, nil
}
