// Command natpmp talks NAT-PMP to the local gateway: it probes for support,
// reports the external address, requests port mappings and watches for
// address change announcements.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"inet.af/portmap/natpmp"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp(ctx, os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "natpmp: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// A command carries the state shared by every subcommand.
type command struct {
	ctx context.Context
	out io.Writer
	log *zap.Logger
}

func newApp(ctx context.Context, out io.Writer) *cli.App {
	cmd := &command{
		ctx: ctx,
		out: out,
		log: zap.NewNop(),
	}

	app := cli.NewApp()
	app.Name = "natpmp"
	app.Usage = "NAT Port Mapping Protocol client"
	app.Writer = out

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "gateway, g",
			Usage:  "gateway IPv4 address (default: discovered from the routing table)",
			EnvVar: "NATPMP_GATEWAY",
		},
		cli.UintFlag{
			Name:   "gateway-port",
			Usage:  "gateway NAT-PMP port",
			Value:  natpmp.ServerPort,
			EnvVar: "NATPMP_GATEWAY_PORT",
		},
		cli.StringFlag{
			Name:   "local-ip",
			Usage:  "local IPv4 address to send from (default: address of the default interface)",
			EnvVar: "NATPMP_LOCAL_IP",
		},
		cli.DurationFlag{
			Name:   "timeout, t",
			Usage:  "receive deadline for each request",
			Value:  natpmp.DefaultTimeout,
			EnvVar: "NATPMP_TIMEOUT",
		},
		cli.StringFlag{
			Name:   "log, l",
			Usage:  "log level: debug, info, warn, error",
			Value:  "info",
			EnvVar: "NATPMP_LOG",
		},
	}

	app.Before = func(c *cli.Context) error {
		lvl, err := zap.ParseAtomicLevel(c.String("log"))
		if err != nil {
			return err
		}

		cfg := zap.NewDevelopmentConfig()
		cfg.Level = lvl
		cfg.OutputPaths = []string{"stderr"}
		log, err := cfg.Build()
		if err != nil {
			return err
		}

		cmd.log = log
		return nil
	}

	app.After = func(_ *cli.Context) error {
		_ = cmd.log.Sync()
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "probe",
			Usage:  "report whether the gateway supports NAT-PMP",
			Action: cmd.probe,
		},
		{
			Name:   "external",
			Usage:  "print the gateway's external IPv4 address",
			Action: cmd.external,
		},
		{
			Name:   "map",
			Usage:  "request an external port mapping",
			Action: cmd.mapPort,
			Flags: []cli.Flag{
				cli.UintFlag{
					Name:  "port, p",
					Usage: "local port to map",
				},
				cli.UintFlag{
					Name:  "external-port, e",
					Usage: "preferred external port (default: chosen by the gateway)",
				},
				cli.StringFlag{
					Name:  "proto",
					Usage: "protocol to map: udp, tcp or both",
					Value: "udp",
				},
			},
		},
		{
			Name:   "watch",
			Usage:  "print external address announcements until interrupted",
			Action: cmd.watch,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "interface, i",
					Usage: "interface on which to join the announcement group",
				},
			},
		},
	}

	return app
}

func (cmd *command) client(c *cli.Context) (*natpmp.Client, error) {
	cfg, err := parseConfig(c)
	if err != nil {
		return nil, err
	}

	cmd.log.Debug("using gateway",
		zap.Stringer("gateway", cfg.Gateway),
		zap.Stringer("local_ip", cfg.LocalIP),
		zap.Uint16("port", cfg.Port),
		zap.Duration("timeout", cfg.Timeout))

	cfg.Logger = cmd.log
	return cfg, nil
}

func printf(w io.Writer, format string, a ...interface{}) {
	_, _ = fmt.Fprintf(w, format, a...)
}
