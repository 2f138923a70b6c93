// Package discovery announces and finds relays on the local network over
// mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	DefaultService     = "_peerdrop._tcp"
	DefaultDomain      = "local."
	DefaultScanTimeout = 3 * time.Second
	protocolVersion    = 1
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

type Config struct {
	Service     string
	Domain      string
	Instance    string
	Port        int
	Path        string
	ScanTimeout time.Duration

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Path == "" {
		out.Path = "/ws"
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// Relay is a relay found on the network.
type Relay struct {
	Instance string
	Host     string
	Port     int
	Path     string
	Addrs    []string
}

// URL is the relay's WebSocket endpoint, preferring the first address.
func (r Relay) URL() string {
	host := r.Host
	if len(r.Addrs) > 0 {
		host = r.Addrs[0]
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(strings.TrimSuffix(host, "."), strconv.Itoa(r.Port)),
		Path:   r.Path,
	}
	return u.String()
}

type Announcer struct {
	server *zeroconf.Server
}

// Announce registers the relay listening on cfg.Port.
func Announce(config Config) (*Announcer, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.Instance) == "" {
		return nil, errors.New("instance name is required")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("listening port must be > 0")
	}

	txt := []string{
		"path=" + cfg.Path,
		"version=" + strconv.Itoa(protocolVersion),
	}
	server, err := cfg.registerFn(cfg.Instance, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	return &Announcer{server: server}, nil
}

func (a *Announcer) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Browse collects relays for one scan window.
func Browse(ctx context.Context, config Config) ([]Relay, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	found := make(map[string]Relay)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if relay, ok := parseEntry(entry); ok {
					found[relay.Instance] = relay
				}
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS: %w", err)
	}
	<-scanCtx.Done()
	<-collectorDone

	relays := make([]Relay, 0, len(found))
	for _, r := range found {
		relays = append(relays, r)
	}
	sort.Slice(relays, func(i, j int) bool { return relays[i].Instance < relays[j].Instance })

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return relays, err
	}
	return relays, nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port <= 0 {
		return Relay{}, false
	}

	txt := make(map[string]string, len(entry.Text))
	for _, kv := range entry.Text {
		key, value, _ := strings.Cut(kv, "=")
		txt[key] = value
	}

	relay := Relay{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Path:     txt["path"],
	}
	if relay.Path == "" {
		relay.Path = "/ws"
	}

	seen := make(map[string]struct{})
	for _, ip := range append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		relay.Addrs = append(relay.Addrs, raw)
	}

	if relay.Host == "" && len(relay.Addrs) == 0 {
		return Relay{}, false
	}
	return relay, true
}
