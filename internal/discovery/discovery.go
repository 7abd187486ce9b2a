// Package discovery finds SDCP printers on the local network.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sdcp-bridge/sdcp-bridge/internal/transport"
	"github.com/sdcp-bridge/sdcp-bridge/pkg/sdcp"
)

// Probe opens a dedicated connection to host, asks for its attributes and
// reports whether a status or response frame comes back before timeout.
func Probe(ctx context.Context, dialer transport.Dialer, host string, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.Dial(ctx, host, port)
	if err != nil {
		return false
	}
	defer conn.Close()

	// Unblock the reader when the deadline passes.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, _, err := sdcp.Encode(sdcp.CmdAttributes, nil, time.Now())
	if err != nil {
		return false
	}
	if err := conn.WriteMessage(data); err != nil {
		return false
	}

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		frame, err := sdcp.Decode(msg)
		if err != nil {
			continue
		}
		if frame.Kind == sdcp.KindStatus || frame.Kind == sdcp.KindResponse {
			return true
		}
	}
}

// Options bounds a subnet scan
type Options struct {
	Port        int
	Timeout     time.Duration
	Concurrency int
}

// Scan probes every address of the /24 around base and returns the hosts
// that answered, sorted.
func Scan(ctx context.Context, dialer transport.Dialer, base string, opts Options) ([]string, error) {
	hosts, err := Subnet24(base)
	if err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}

	var (
		mu    sync.Mutex
		found []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, host := range hosts {
		host := host
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if Probe(gctx, dialer, host, opts.Port, opts.Timeout) {
				log.Info().Str("host", host).Msg("Found SDCP printer")
				mu.Lock()
				found = append(found, host)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool {
		return ipLess(found[i], found[j])
	})
	return found, nil
}

// Subnet24 returns the host addresses .1 to .254 of the IPv4 /24 that
// contains base.
func Subnet24(base string) ([]string, error) {
	ip := net.ParseIP(base).To4()
	if ip == nil {
		return nil, fmt.Errorf("not an IPv4 address: %q", base)
	}

	hosts := make([]string, 0, 254)
	for i := 1; i < 255; i++ {
		hosts = append(hosts, net.IPv4(ip[0], ip[1], ip[2], byte(i)).String())
	}
	return hosts, nil
}

func ipLess(a, b string) bool {
	ia, ib := net.ParseIP(a).To4(), net.ParseIP(b).To4()
	if ia == nil || ib == nil {
		return a < b
	}
	for i := 0; i < 4; i++ {
		if ia[i] != ib[i] {
			return ia[i] < ib[i]
		}
	}
	return false
}

// Resolve returns host if it answers a probe. Otherwise, when scan is
// set, it scans the /24 around host and returns the first printer found.
// It falls back to host when nothing answers.
func Resolve(ctx context.Context, dialer transport.Dialer, host string, scan bool, opts Options) string {
	if Probe(ctx, dialer, host, opts.Port, opts.Timeout) {
		return host
	}
	if !scan {
		return host
	}

	log.Info().Str("host", host).Msg("Configured printer did not answer, scanning subnet")
	found, err := Scan(ctx, dialer, host, opts)
	if err != nil {
		log.Warn().Err(err).Msg("Printer discovery failed")
		return host
	}
	if len(found) == 0 {
		log.Warn().Str("host", host).Msg("No SDCP printer found on subnet")
		return host
	}
	if len(found) > 1 {
		log.Info().Strs("printers", found).Msg("Several printers answered, using the first")
	}
	return found[0]
}
