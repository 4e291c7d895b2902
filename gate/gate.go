// Package gate binds outgoing device traffic to the e-paper's local network
// instead of the default route.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrConnectivityUnavailable is returned when the target network cannot be
// reached or bound.
var ErrConnectivityUnavailable = errors.New("connectivity unavailable")

// Info describes the network traffic is routed through.
type Info struct {
	Interface string   `json:"interface"`
	Addresses []string `json:"addresses"`
	Up        bool     `json:"up"`
	Bound     bool     `json:"bound"`
}

// Gate is the connectivity capability consumed by the upload path.
type Gate interface {
	Connect(ctx context.Context) error
	BindTraffic(ctx context.Context) error
	UnbindTraffic(ctx context.Context) error
	IsConnected(ctx context.Context) (bool, error)
	NetworkInfo(ctx context.Context) (Info, error)

	// DialContext dials through the bound network when bound, else the
	// default route.
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Direct is a Gate that always uses the default route.
type Direct struct {
	dialer net.Dialer
}

func (d *Direct) Connect(ctx context.Context) error       { return ctx.Err() }
func (d *Direct) BindTraffic(ctx context.Context) error   { return ctx.Err() }
func (d *Direct) UnbindTraffic(ctx context.Context) error { return nil }

func (d *Direct) IsConnected(ctx context.Context) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

func (d *Direct) NetworkInfo(ctx context.Context) (Info, error) {
	return Info{Interface: "default", Up: true}, ctx.Err()
}

func (d *Direct) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.dialer.DialContext(ctx, network, addr)
}

// InterfaceLookup resolves a network interface by name.
type InterfaceLookup func(name string) (*net.Interface, []net.Addr, error)

func lookupInterface(name string) (*net.Interface, []net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, nil, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, nil, err
	}
	return iface, addrs, nil
}

// NetGate binds outgoing sockets to the IPv4 address of a named interface,
// typically the Wi-Fi interface joined to the device hotspot.
type NetGate struct {
	name         string
	lookup       InterfaceLookup
	pollInterval time.Duration

	mu    sync.RWMutex
	bound *net.Dialer
}

// NewNetGate creates a gate for the interface called name.
func NewNetGate(name string) *NetGate {
	return &NetGate{
		name:         name,
		lookup:       lookupInterface,
		pollInterval: 500 * time.Millisecond,
	}
}

// WithLookup replaces the interface resolver.
func (g *NetGate) WithLookup(lookup InterfaceLookup) *NetGate {
	g.lookup = lookup
	return g
}

func (g *NetGate) resolve() (net.IP, *net.Interface, []net.Addr, error) {
	iface, addrs, err := g.lookup(g.name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: interface %s: %v", ErrConnectivityUnavailable, g.name, err)
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, iface, addrs, fmt.Errorf("%w: interface %s is down", ErrConnectivityUnavailable, g.name)
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, iface, addrs, nil
		}
	}
	return nil, iface, addrs, fmt.Errorf("%w: interface %s has no IPv4 address", ErrConnectivityUnavailable, g.name)
}

// Connect waits until the interface is up with an IPv4 address.
func (g *NetGate) Connect(ctx context.Context) error {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		_, _, _, err := g.resolve()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", err, ctx.Err())
		case <-ticker.C:
		}
	}
}

// BindTraffic routes subsequent dials through the interface address.
func (g *NetGate) BindTraffic(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ip, _, _, err := g.resolve()
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.bound = &net.Dialer{
		LocalAddr: &net.TCPAddr{IP: ip},
		Timeout:   10 * time.Second,
	}
	g.mu.Unlock()
	return nil
}

// UnbindTraffic restores the default route.
func (g *NetGate) UnbindTraffic(ctx context.Context) error {
	g.mu.Lock()
	g.bound = nil
	g.mu.Unlock()
	return nil
}

// IsConnected reports whether the interface is usable.
func (g *NetGate) IsConnected(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, _, _, err := g.resolve()
	if errors.Is(err, ErrConnectivityUnavailable) {
		return false, nil
	}
	return err == nil, err
}

// NetworkInfo describes the interface and whether traffic is bound to it.
func (g *NetGate) NetworkInfo(ctx context.Context) (Info, error) {
	info := Info{Interface: g.name}
	if err := ctx.Err(); err != nil {
		return info, err
	}
	iface, addrs, err := g.lookup(g.name)
	if err != nil {
		return info, fmt.Errorf("%w: interface %s: %v", ErrConnectivityUnavailable, g.name, err)
	}
	info.Up = iface.Flags&net.FlagUp != 0
	for _, a := range addrs {
		info.Addresses = append(info.Addresses, a.String())
	}
	g.mu.RLock()
	info.Bound = g.bound != nil
	g.mu.RUnlock()
	return info, nil
}

// DialContext dials through the bound interface when bound.
func (g *NetGate) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	g.mu.RLock()
	d := g.bound
	g.mu.RUnlock()
	if d == nil {
		var def net.Dialer
		return def.DialContext(ctx, network, addr)
	}
	return d.DialContext(ctx, network, addr)
}
