package mdns

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const domain = "local."

// Finder browses the local network for the first service instance whose name
// starts with a prefix.
type Finder struct {
	timeout time.Duration
}

func NewFinder(timeout time.Duration) *Finder {
	return &Finder{timeout: timeout}
}

// FindFirst returns "" when nothing matched before the browse timeout.
func (f *Finder) FindFirst(ctx context.Context, service string, prefix string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("creating mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if host, ok := match(entry, prefix); ok {
					select {
					case found <- host:
					default:
					}
					cancel()
				}
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return "", fmt.Errorf("browsing %v: %w", service, err)
	}

	<-ctx.Done()

	select {
	case host := <-found:
		return host, nil
	default:
		return "", nil
	}
}

func match(entry *zeroconf.ServiceEntry, prefix string) (string, bool) {
	if !strings.HasPrefix(unescape(entry.Instance), prefix) {
		return "", false
	}

	var ip net.IP
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0]
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0]
	} else {
		return "", false
	}

	if entry.Port == 0 || entry.Port == 80 {
		if ip.To4() == nil {
			return "[" + ip.String() + "]", true
		}
		return ip.String(), true
	}

	return net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
}

// Instance names come back with DNS escaping, e.g. "DUCO\ [a0b1c2]".
func unescape(instance string) string {
	var b strings.Builder
	escaped := false
	for _, r := range instance {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}

	return b.String()
}

// Static always returns the same host; used when the address is configured.
type Static string

func (s Static) FindFirst(ctx context.Context, service string, prefix string) (string, error) {
	return string(s), nil
}
