package main

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"inet.af/portmap/natpmp"
)

var errNotAvailable = errors.New("NAT-PMP is not available")

func (cmd *command) probe(c *cli.Context) error {
	client, err := cmd.client(c)
	if err != nil {
		return err
	}

	if !client.Probe(cmd.ctx) {
		return fmt.Errorf("gateway %s: %w", client.Gateway, errNotAvailable)
	}

	printf(cmd.out, "NAT-PMP is available on %s\n", client.Gateway)
	return nil
}

func (cmd *command) external(c *cli.Context) error {
	client, err := cmd.client(c)
	if err != nil {
		return err
	}

	pa, err := client.ExternalAddress(cmd.ctx)
	if err != nil {
		return err
	}

	printf(cmd.out, "%s (epoch %s)\n", pa.IP, pa.SinceStartOfEpoch())
	return nil
}

func (cmd *command) mapPort(c *cli.Context) error {
	port, err := parsePort("port", c.Uint("port"))
	if err != nil {
		return err
	}
	if port == 0 {
		return errors.New("port: a non-zero local port is required")
	}

	ext, err := parsePort("external-port", c.Uint("external-port"))
	if err != nil {
		return err
	}

	protos, err := parseProtocols(c.String("proto"))
	if err != nil {
		return err
	}

	client, err := cmd.client(c)
	if err != nil {
		return err
	}

	var preferred netip.AddrPort
	if ext != 0 {
		preferred = netip.AddrPortFrom(netip.IPv4Unspecified(), ext)
	}

	// Each protocol is mapped over its own socket, so the requests can run
	// concurrently.
	mappings := make([]*natpmp.Mapping, len(protos))
	eg, ctx := errgroup.WithContext(cmd.ctx)
	for i, proto := range protos {
		i, proto := i, proto
		eg.Go(func() error {
			m, err := client.Map(ctx, proto, port, preferred)
			if err != nil {
				return fmt.Errorf("map %s port %d: %w", proto, port, err)
			}

			mappings[i] = m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, m := range mappings {
		printf(cmd.out, "%s\t%s\trenew in %s\n", protos[i], m.External(), m.HalfLifetime())
	}

	return nil
}

func (cmd *command) watch(c *cli.Context) error {
	client, err := cmd.client(c)
	if err != nil {
		return err
	}

	var ifi *net.Interface
	if name := c.String("interface"); name != "" {
		if ifi, err = net.InterfaceByName(name); err != nil {
			return err
		}
	}

	l, err := client.ListenAnnouncements(ifi)
	if err != nil {
		return err
	}
	defer l.Close()

	cmd.log.Info("watching for announcements", zap.Stringer("gateway", client.Gateway))

	for {
		pa, err := l.Next(cmd.ctx)
		if err != nil {
			if cmd.ctx.Err() != nil {
				// Interrupted.
				return nil
			}

			return err
		}

		printf(cmd.out, "%s (epoch %s)\n", pa.IP, pa.SinceStartOfEpoch())
	}
}
