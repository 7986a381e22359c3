// Package netscan finds network printers by sweeping an address range for
// hosts that accept connections on the raw print port.
package netscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"printlink/internal/printer"
	"printlink/internal/transport"
)

// maxHostBits bounds a sweep to 4096 addresses; larger ranges must be split
// by the caller.
const maxHostBits = 12

// nameKey is queried on each responding host for a display name.
const nameKey = "device.friendly_name"

var ErrRangeTooLarge = errors.New("netscan: address range too large")

// Querier reads one setting from an open connection.
type Querier interface {
	Get(ctx context.Context, rw io.ReadWriter, key string) (string, error)
}

// Options configures a Sweeper.
type Options struct {
	// Prefix is the range to sweep. The zero value selects LocalPrefix.
	Prefix  netip.Prefix
	Port    int
	Timeout time.Duration
	Workers int
	// Querier, when set, asks each responding host for its friendly name.
	Querier Querier
	Logger  *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Port == 0 {
		o.Port = transport.DefaultNetworkPort
	}
	if o.Timeout <= 0 {
		o.Timeout = 500 * time.Millisecond
	}
	if o.Workers <= 0 {
		o.Workers = 64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Sweeper is a printer.Scanner for network printers.
type Sweeper struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Sweeper {
	opts.setDefaults()
	return &Sweeper{opts: opts, log: opts.Logger.Named("netscan")}
}

// Scan dials every host in the range concurrently and reports those that
// answer.
func (s *Sweeper) Scan(ctx context.Context, found func(printer.Device)) error {
	prefix := s.opts.Prefix
	if !prefix.IsValid() {
		p, err := LocalPrefix()
		if err != nil {
			return err
		}
		prefix = p
	}
	hosts, err := Hosts(prefix)
	if err != nil {
		return err
	}
	s.log.Debug("sweep started", zap.Stringer("prefix", prefix), zap.Int("hosts", len(hosts)), zap.Int("port", s.opts.Port))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, addr := range hosts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if d, ok := s.probe(gctx, addr); ok {
				found(d)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Sweeper) probe(ctx context.Context, addr netip.Addr) (printer.Device, bool) {
	address := net.JoinHostPort(addr.String(), strconv.Itoa(s.opts.Port))
	t := transport.NewTCP(address, s.opts.Port, s.opts.Timeout, s.opts.Timeout)
	if err := t.Open(ctx); err != nil {
		return printer.Device{}, false
	}
	defer t.Close()

	d := printer.Device{Address: address, Kind: transport.KindNetwork}
	if s.opts.Querier != nil {
		name, err := s.opts.Querier.Get(ctx, t, nameKey)
		if err != nil {
			s.log.Debug("no friendly name", zap.String("address", address), zap.Error(err))
		} else {
			d.FriendlyName = name
		}
	}
	s.log.Debug("host answered", zap.String("address", address))
	return d, true
}

// Hosts lists the host addresses of prefix, leaving out the network and
// broadcast addresses of IPv4 ranges wider than /31.
func Hosts(prefix netip.Prefix) ([]netip.Addr, error) {
	prefix = prefix.Masked()
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > maxHostBits {
		return nil, fmt.Errorf("%w: %s", ErrRangeTooLarge, prefix)
	}
	var hosts []netip.Addr
	for a := prefix.Addr(); prefix.Contains(a); a = a.Next() {
		hosts = append(hosts, a)
		if !a.Next().IsValid() {
			break
		}
	}
	if prefix.Addr().Is4() && hostBits >= 2 {
		hosts = hosts[1 : len(hosts)-1]
	}
	return hosts, nil
}

// LocalPrefix returns the /24 around the first private IPv4 address of an
// up, non-loopback interface.
func LocalPrefix() (netip.Prefix, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Prefix{}, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok {
				continue
			}
			ip = ip.Unmap()
			if !ip.Is4() || !ip.IsPrivate() {
				continue
			}
			ones, _ := ipnet.Mask.Size()
			return netip.PrefixFrom(ip, max(ones, 24)).Masked(), nil
		}
	}
	return netip.Prefix{}, errors.New("netscan: no private IPv4 network found")
}
