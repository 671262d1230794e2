package roku

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceInfoDoc = `<?xml version="1.0" encoding="UTF-8" ?>
<device-info>
	<udn>29380007-0800-1025-80a4-d83134a9a0b7</udn>
	<serial-number>X004000AB123</serial-number>
	<model-name>Roku Ultra</model-name>
	<friendly-device-name>Conference Room</friendly-device-name>
</device-info>`

const appsDoc = `<?xml version="1.0" encoding="UTF-8" ?>
<apps>
	<app id="12" type="appl" version="4.2.81179021">Netflix</app>
	<app id="837" version="2.21.91005058">YouTube</app>
</apps>`

// fakeRoku serves the ECP endpoints and records POSTs.
type fakeRoku struct {
	mu    sync.Mutex
	posts []string
}

func (f *fakeRoku) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `<root><device><manufacturer>Roku</manufacturer></device></root>`)
	})
	mux.HandleFunc("/query/device-info", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, deviceInfoDoc)
	})
	mux.HandleFunc("/query/apps", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, appsDoc)
	})
	post := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		f.mu.Lock()
		f.posts = append(f.posts, r.URL.EscapedPath())
		f.mu.Unlock()
	}
	mux.HandleFunc("/keypress/", post)
	mux.HandleFunc("/launch/", post)
	return mux
}

func startFakeRoku(t *testing.T) (*fakeRoku, *Client, string) {
	t.Helper()
	f := &fakeRoku{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(2 * time.Second)
	c.Port = port
	return f, c, host
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestClientDeviceInfo(t *testing.T) {
	_, c, host := startFakeRoku(t)

	dev, err := c.DeviceInfo(context.Background(), host)
	require.NoError(t, err)
	assert.Equal(t, Device{IP: host, Name: "Conference Room", Model: "Roku Ultra", Serial: "X004000AB123"}, *dev)
}

func TestClientDeviceInfoDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<device-info><model-name></model-name></device-info>`)
	}))
	defer srv.Close()
	_, portStr, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	c := NewClient(time.Second)
	c.Port, _ = strconv.Atoi(portStr)

	dev, err := c.DeviceInfo(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "Unknown Roku", dev.Name)
	assert.Equal(t, "Unknown", dev.Model)
	assert.Equal(t, "Unknown", dev.Serial)
}

func TestClientKeypressAndLaunch(t *testing.T) {
	f, c, host := startFakeRoku(t)

	require.NoError(t, c.Keypress(context.Background(), host, "Home"))
	require.NoError(t, c.Keypress(context.Background(), host, "Lit_a b"))
	require.NoError(t, c.Launch(context.Background(), host, "12"))

	assert.Equal(t, []string{"/keypress/Home", "/keypress/Lit_a%20b", "/launch/12"}, f.posts)
}

func TestClientApps(t *testing.T) {
	_, c, host := startFakeRoku(t)

	apps, err := c.Apps(context.Background(), host)
	require.NoError(t, err)
	assert.Equal(t, []App{
		{ID: "12", Name: "Netflix", Type: "appl"},
		{ID: "837", Name: "YouTube", Type: "appl"},
	}, apps)
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, portStr, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	c := NewClient(time.Second)
	c.Port, _ = strconv.Atoi(portStr)

	assert.Error(t, c.Keypress(context.Background(), "127.0.0.1", "Home"))
	_, err := c.Probe(context.Background(), "127.0.0.1")
	assert.Error(t, err)
}

func TestProbeRejectsNonRoku(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>printer admin</html>")
	}))
	defer srv.Close()
	_, portStr, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	c := NewClient(time.Second)
	c.Port, _ = strconv.Atoi(portStr)

	_, err := c.Probe(context.Background(), "127.0.0.1")
	assert.Error(t, err)
}

func TestParseSSDPResponse(t *testing.T) {
	resp := "HTTP/1.1 200 OK\r\n" +
		"Cache-Control: max-age=3600\r\n" +
		"ST: roku:ecp\r\n" +
		"LOCATION: http://192.168.1.134:8060/\r\n" +
		"USN: uuid:roku:ecp:P0A070000007\r\n\r\n"

	loc, ok := parseSSDPResponse([]byte(resp))
	require.True(t, ok)
	assert.Equal(t, "http://192.168.1.134:8060/", loc)

	_, ok = parseSSDPResponse([]byte("HTTP/1.1 200 OK\r\nST: upnp:rootdevice\r\nLOCATION: http://10.0.0.2/\r\n\r\n"))
	assert.False(t, ok)

	_, ok = parseSSDPResponse([]byte("roku:ecp garbage"))
	assert.False(t, ok)
}

// ssdpResponder answers one M-SEARCH with the given location, twice, to exercise de-duplication.
func ssdpResponder(t *testing.T, location string) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil || !strings.Contains(string(buf[:n]), "ST: roku:ecp") {
			return
		}
		reply := "HTTP/1.1 200 OK\r\nST: roku:ecp\r\nLOCATION: " + location + "\r\n\r\n"
		conn.WriteTo([]byte(reply), addr)
		conn.WriteTo([]byte(reply), addr)
	}()
	return conn.LocalAddr().String()
}

func TestDiscoverViaSSDP(t *testing.T) {
	_, c, host := startFakeRoku(t)

	d := NewDiscoverer(c, quietLogger())
	d.SSDPAddr = ssdpResponder(t, "http://"+net.JoinHostPort(host, strconv.Itoa(c.Port))+"/")
	d.SSDPTimeout = 300 * time.Millisecond
	d.Hosts = func() []string {
		t.Error("network scan should not run when SSDP finds a device")
		return nil
	}

	devices := d.Discover(context.Background())
	require.Len(t, devices, 1)
	assert.Equal(t, "Conference Room", devices[0].Name)
	assert.Equal(t, host, devices[0].IP)
}

func TestDiscoverFallsBackToScan(t *testing.T) {
	_, c, host := startFakeRoku(t)

	silent, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	d := NewDiscoverer(c, quietLogger())
	d.SSDPAddr = silent.LocalAddr().String()
	d.SSDPTimeout = 100 * time.Millisecond
	d.Hosts = func() []string { return []string{"127.0.0.2", host} }
	c.ProbeTimeout = 300 * time.Millisecond

	devices := d.Discover(context.Background())
	require.Len(t, devices, 1)
	assert.Equal(t, host, devices[0].IP)
}

func TestScanStopsAtLimit(t *testing.T) {
	_, c, host := startFakeRoku(t)

	d := NewDiscoverer(c, quietLogger())
	d.ScanWorkers = 2
	d.ScanLimit = 2
	hosts := []string{host, host, host, host, host, host}

	devices := d.scan(context.Background(), hosts)
	assert.Len(t, devices, 2)
}

func TestSubnetHosts(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("192.168.33.0/24")
	require.NoError(t, err)
	ipnet.IP = net.ParseIP("192.168.33.10")

	hosts := subnetHosts(ipnet)
	assert.Len(t, hosts, 253)
	assert.Equal(t, "192.168.33.1", hosts[0])
	assert.Equal(t, "192.168.33.254", hosts[len(hosts)-1])
	assert.NotContains(t, hosts, "192.168.33.10")

	_, wide, err := net.ParseCIDR("10.0.0.0/16")
	require.NoError(t, err)
	assert.Empty(t, subnetHosts(wide))
}

func TestMappingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roku_devices.json")
	s := NewMappingStore(path, quietLogger())

	assert.Empty(t, s.Load())

	m := Mappings{
		"1": {IP: "192.168.1.50", Name: "Lobby", Model: "Roku Express", Serial: "A1"},
		"3": {IP: "192.168.1.51", Name: "Bar", Model: "Roku Ultra", Serial: "B2"},
	}
	require.NoError(t, s.Save(m))

	assert.Equal(t, m, s.Load())

	dev, ok := s.Lookup("3")
	require.True(t, ok)
	assert.Equal(t, "Bar", dev.Name)

	_, ok = s.Lookup("2")
	assert.False(t, ok)

	require.NoError(t, s.Save(nil))
	assert.Empty(t, s.Load())
}
