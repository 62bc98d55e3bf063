package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the DNS-SD service type servers register.
	ServiceType = "_networktables._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// MaxInstanceNameLen caps the advertised instance name.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	txtKeyTCPPort = "tcpport"
	txtKeyWSPort  = "wsport"
)

// ErrNotAdvertising is returned when stopping a service that was never
// started.
var ErrNotAdvertising = errors.New("not advertising")

// ServerInfo describes an advertised server.
type ServerInfo struct {
	// Name is the instance name, typically the server identity.
	Name string

	// TCPPort is the v3 listener port, 0 if v3 is disabled.
	TCPPort uint16

	// WSPort is the v4 WebSocket listener port, 0 if v4 is disabled.
	WSPort uint16
}

// Service is a server found while browsing.
type Service struct {
	ServerInfo

	// Addresses holds the resolved host addresses.
	Addresses []net.IP

	// Hostname is the advertised mDNS hostname.
	Hostname string
}

// encodeTXT renders the info's TXT records.
func encodeTXT(info ServerInfo) []string {
	var txt []string
	if info.TCPPort != 0 {
		txt = append(txt, txtKeyTCPPort+"="+strconv.Itoa(int(info.TCPPort)))
	}
	if info.WSPort != 0 {
		txt = append(txt, txtKeyWSPort+"="+strconv.Itoa(int(info.WSPort)))
	}
	return txt
}

// decodeTXT parses TXT records back into port assignments.
func decodeTXT(txt []string) (tcpPort, wsPort uint16) {
	for _, record := range txt {
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			continue
		}
		switch key {
		case txtKeyTCPPort:
			tcpPort = uint16(port)
		case txtKeyWSPort:
			wsPort = uint16(port)
		}
	}
	return tcpPort, wsPort
}

// AdvertiserConfig configures mDNS advertisement.
type AdvertiserConfig struct {
	// Interface restricts advertisement to one interface by name.
	// Empty means all interfaces.
	Interface string

	// TTL overrides the record time-to-live.
	TTL time.Duration
}

// Advertiser registers a server with mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise starts announcing the server. A second call replaces the
// previous announcement.
func (a *Advertiser) Advertise(info ServerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	instance := info.Name
	if instance == "" {
		instance = "networktables"
	}
	if len(instance) > MaxInstanceNameLen {
		instance = instance[:MaxInstanceNameLen]
	}

	// DNS-SD wants one port per record; advertise the primary
	// listener and carry both ports in TXT.
	port := int(info.WSPort)
	if port == 0 {
		port = int(info.TCPPort)
	}
	if port == 0 {
		return fmt.Errorf("no listener port to advertise")
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		encodeTXT(info),
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.Shutdown()
	a.server = nil
	return nil
}

// BrowserConfig configures mDNS browsing.
type BrowserConfig struct {
	// Interface restricts browsing to one interface by name.
	Interface string
}

// Browser locates servers on the local network.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates an mDNS browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

func (b *Browser) options() []zeroconf.ClientOption {
	if b.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(b.config.Interface)
	if err != nil {
		return nil
	}
	return []zeroconf.ClientOption{zeroconf.SelectIfaces([]net.Interface{*iface})}
}

// Browse streams servers as they are found. Addresses seen for the
// same instance across interfaces are merged into the first emitted
// entry. The channel closes when ctx is cancelled.
func (b *Browser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		seen := make(map[string]*Service)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToService(entry)
				if svc == nil {
					continue
				}
				if existing, found := seen[svc.Name]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				seen[svc.Name] = svc
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(seen, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.options()...)
	}()

	return out, nil
}

// Find returns the first server discovered within the timeout, or an
// error if none appears.
func (b *Browser) Find(ctx context.Context, timeout time.Duration) (*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	services, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case svc, ok := <-services:
		if !ok {
			return nil, fmt.Errorf("no server found within %s", timeout)
		}
		return svc, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no server found within %s", timeout)
	}
}

func entryToService(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil {
		return nil
	}
	tcpPort, wsPort := decodeTXT(entry.Text)
	if tcpPort == 0 && wsPort == 0 {
		// Fall back to the SRV port for server implementations
		// that publish no TXT records.
		wsPort = uint16(entry.Port)
	}

	var addrs []net.IP
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)

	return &Service{
		ServerInfo: ServerInfo{
			Name:    entry.Instance,
			TCPPort: tcpPort,
			WSPort:  wsPort,
		},
		Addresses: addrs,
		Hostname:  entry.HostName,
	}
}

func mergeAddresses(existing, incoming []net.IP) []net.IP {
	for _, ip := range incoming {
		dup := false
		for _, have := range existing {
			if have.Equal(ip) {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, ip)
		}
	}
	return existing
}
