package roku

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
)

const ssdpMulticastAddr = "239.255.255.250:1900"

const searchRequest = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"ST: roku:ecp\r\n" +
	"MX: 3\r\n\r\n"

// Discoverer finds Roku players on the local network. SSDP is tried first; when
// nothing answers, the local subnets are probed directly.
type Discoverer struct {
	Client *Client
	Logger *log.Logger

	SSDPAddr    string
	SSDPTimeout time.Duration
	ScanWorkers int
	ScanLimit   int

	// Hosts lists the addresses to probe when SSDP finds nothing.
	Hosts func() []string
}

// NewDiscoverer returns a Discoverer with the usual SSDP and scan settings.
func NewDiscoverer(client *Client, logger *log.Logger) *Discoverer {
	if logger == nil {
		logger = log.Default()
	}
	return &Discoverer{
		Client:      client,
		Logger:      logger,
		SSDPAddr:    ssdpMulticastAddr,
		SSDPTimeout: 3 * time.Second,
		ScanWorkers: 20,
		ScanLimit:   10,
		Hosts:       LocalHosts,
	}
}

// Discover returns every player found, de-duplicated by IP.
func (d *Discoverer) Discover(ctx context.Context) []Device {
	d.Logger.Println("Starting Roku device discovery...")

	var devices []Device
	locations, err := d.searchSSDP(ctx)
	if err != nil {
		d.Logger.Printf("SSDP discovery failed: %v", err)
	}

	seen := make(map[string]bool)
	for _, loc := range locations {
		u, err := url.Parse(loc)
		if err != nil || u.Hostname() == "" {
			continue
		}
		ip := u.Hostname()
		if seen[ip] {
			continue
		}
		seen[ip] = true

		dev, err := d.Client.DeviceInfo(ctx, ip)
		if err != nil {
			d.Logger.Printf("Failed to query Roku at %s: %v", ip, err)
			continue
		}
		d.Logger.Printf("Added Roku device: %s at %s", dev.Name, dev.IP)
		devices = append(devices, *dev)
	}

	if len(devices) == 0 {
		d.Logger.Println("SSDP discovery found no devices, trying network scan...")
		devices = d.scan(ctx, d.Hosts())
	}

	d.Logger.Printf("Discovery completed. Found %d Roku device(s)", len(devices))
	return devices
}

func (d *Discoverer) searchSSDP(ctx context.Context) ([]string, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(2); err != nil {
		d.Logger.Printf("Failed to set multicast TTL: %v", err)
	}

	dst, err := net.ResolveUDPAddr("udp4", d.SSDPAddr)
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteTo([]byte(searchRequest), dst); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(d.SSDPTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	var locations []string
	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			// the read deadline ends the search
			break
		}
		if loc, ok := parseSSDPResponse(buf[:n]); ok {
			d.Logger.Printf("Found Roku location: %s", loc)
			locations = append(locations, loc)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return locations, nil
}

// parseSSDPResponse returns the LOCATION of a response advertising roku:ecp.
func parseSSDPResponse(data []byte) (string, bool) {
	if !bytes.Contains(bytes.ToLower(data), []byte("roku:ecp")) {
		return "", false
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	if err != nil {
		return "", false
	}
	resp.Body.Close()

	loc := strings.TrimSpace(resp.Header.Get("Location"))
	return loc, loc != ""
}

func (d *Discoverer) scan(ctx context.Context, hosts []string) []Device {
	d.Logger.Printf("Starting network scan of %d address(es) for Roku devices...", len(hosts))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.ScanWorkers)

	var mu sync.Mutex
	var found []Device

	for _, ip := range hosts {
		if gctx.Err() != nil {
			break
		}
		ip := ip
		g.Go(func() error {
			dev, err := d.Client.Probe(gctx, ip)
			if err != nil {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if len(found) >= d.ScanLimit {
				return nil
			}
			found = append(found, *dev)
			d.Logger.Printf("Found Roku device via scan: %s at %s", dev.Name, dev.IP)
			if len(found) >= d.ScanLimit {
				cancel()
			}
			return nil
		})
	}
	g.Wait()

	d.Logger.Printf("Network scan completed. Found %d device(s)", len(found))
	return found
}

// LocalHosts lists every host address on the machine's IPv4 networks of /24 or smaller,
// excluding its own addresses.
func LocalHosts() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var hosts []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		hosts = append(hosts, subnetHosts(ipnet)...)
	}
	return hosts
}

func subnetHosts(ipnet *net.IPNet) []string {
	ip := ipnet.IP.To4()
	if ip == nil {
		return nil
	}
	ones, bits := ipnet.Mask.Size()
	if bits == 8*net.IPv6len {
		ones, bits = ones-96, 32
	}
	if bits != 32 || ones < 24 || ones > 30 {
		return nil
	}

	base := binary.BigEndian.Uint32(ip.Mask(ipnet.Mask))
	size := uint32(1) << uint(32-ones)

	hosts := make([]string, 0, size-2)
	for i := uint32(1); i < size-1; i++ {
		candidate := make(net.IP, 4)
		binary.BigEndian.PutUint32(candidate, base+i)
		if candidate.Equal(ip) {
			continue
		}
		hosts = append(hosts, candidate.String())
	}
	return hosts
}
