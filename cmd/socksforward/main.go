// Command socksforward runs the SOCKS5 intercepting proxy.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arda-oss/socksforward/pkg/config"
	"github.com/arda-oss/socksforward/pkg/engine"
	"github.com/arda-oss/socksforward/pkg/metrics"
	"github.com/arda-oss/socksforward/pkg/proxylog"
	"github.com/arda-oss/socksforward/pkg/routetable"
)

const appName = "socksforward"

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	workDir := proxylog.WorkDir()

	loggers, err := proxylog.Setup(workDir, appName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: setting up logging: %v\n", appName, err)
		os.Exit(1)
	}
	defer loggers.Close()

	if err := run(*configPath, loggers); err != nil {
		loggers.Info.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath string, loggers *proxylog.Loggers) error {
	defer loggers.RecoverAndLog("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	routes := routetable.NewWithRules(cfg.RouteTableRules())

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr, reg); err != nil {
				loggers.Info.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	eng := &engine.Engine{
		Routes:  routes,
		Metrics: collectors,
		Logger:  loggers.Info,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}
	defer ln.Close()

	loggers.Info.Printf("SOCKS5 proxy listening on %s", cfg.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			loggers.Info.Printf("accept error: %v", err)
			continue
		}

		go func() {
			defer loggers.RecoverAndLog("connection")
			eng.HandleConnection(conn)
		}()
	}
}
