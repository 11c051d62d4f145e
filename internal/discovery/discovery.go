// Package discovery advertises and locates cloudvault servers over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_cloudvault._tcp"

// Advertiser represents an active mDNS advertisement.
type Advertiser struct {
	server *zeroconf.Server
}

// Service describes a discovered cloudvault endpoint.
type Service struct {
	Name    string
	Version string
	IP      net.IP
	Port    int
}

// Addr returns the host:port dial address for the service.
func (s Service) Addr() string {
	return net.JoinHostPort(s.IP.String(), strconv.Itoa(s.Port))
}

// Advertise publishes the server instance over mDNS.
func Advertise(instance, version string, port int) (*Advertiser, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name is required")
	}

	txt := []string{"version=" + version}
	srv, err := zeroconf.Register(instance, serviceType, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}
	return &Advertiser{server: srv}, nil
}

// Close stops advertising.
func (a *Advertiser) Close() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Browse discovers cloudvault servers via mDNS, waiting up to timeout for
// responses.
func Browse(ctx context.Context, timeout time.Duration) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	results := []Service{}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if len(e.AddrIPv4) == 0 {
				continue
			}
			results = append(results, Service{
				Name:    e.Instance,
				Version: attr(e, "version"),
				IP:      e.AddrIPv4[0],
				Port:    e.Port,
			})
		}
	}()

	err = resolver.Browse(ctx, serviceType, "local.", entries)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	<-ctx.Done()
	// The entries channel is closed by zeroconf when Browse returns.
	<-done

	return results, nil
}

func attr(e *zeroconf.ServiceEntry, key string) string {
	prefix := key + "="
	for _, t := range e.Text {
		if len(t) >= len(prefix) && t[:len(prefix)] == prefix {
			return t[len(prefix):]
		}
	}
	return ""
}
