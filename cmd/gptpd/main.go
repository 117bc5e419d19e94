/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/gptp/gptp/port"
	"github.com/facebook/gptp/gptp/stats"
	"github.com/facebook/gptp/gptp/transport"
	"github.com/facebook/gptp/timestamp"

	_ "net/http/pprof"
)

func doWork(ctx context.Context, cfg *port.Config) error {
	st := stats.NewJSONStats()
	go st.Start(cfg.MonitoringPort, cfg.SyncInterval)

	clock, err := port.NewClock(cfg)
	if err != nil {
		return err
	}
	if c, ok := clock.(io.Closer); ok {
		defer c.Close()
	}
	conn, err := transport.Listen(&transport.Config{
		Iface:        cfg.Iface,
		Timestamping: cfg.Timestamping,
		RXTimeout:    cfg.RXTimeout,
		TXTimeout:    cfg.TimeoutTXTS,
		LinkUp:       cfg.LinkUp,
	})
	if err != nil {
		return fmt.Errorf("opening connection on %s: %w", cfg.Iface, err)
	}
	defer conn.Close()

	p, err := port.NewPort(cfg, conn, clock, st, nil)
	if err != nil {
		return err
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("failed to notify systemd: %v", err)
	}
	return p.Run(ctx)
}

func main() {
	var (
		verboseFlag        bool
		ifaceFlag          string
		monitoringPortFlag int
		configFlag         string
		pprofFlag          string
		bmcModeFlag        string
		timestampingFlag   timestamp.Timestamp
	)
	defaults := port.DefaultConfig()
	timestampingFlag = defaults.Timestamping

	flag.BoolVar(&verboseFlag, "verbose", false, "verbose output")
	flag.StringVar(&ifaceFlag, "iface", defaults.Iface, "network interface to use")
	flag.StringVar(&configFlag, "config", "", "path to the config")
	flag.IntVar(&monitoringPortFlag, "monitoringport", defaults.MonitoringPort, "port to start monitoring http server on")
	flag.StringVar(&bmcModeFlag, "bmcmode", defaults.BMCMode, fmt.Sprintf("best master selection mode: %s, %s or %s", port.BMCModeAuto, port.BMCModeMaster, port.BMCModeSlave))
	flag.Var(&timestampingFlag, "timestamping", fmt.Sprintf("timestamping to use, either %q or %q", timestamp.HW, timestamp.SW))
	flag.StringVar(&pprofFlag, "pprof", "", "Address to have the profiler listen on, disabled if empty.")

	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := port.PrepareConfig(configFlag, ifaceFlag, monitoringPortFlag, timestampingFlag, bmcModeFlag, setFlags)
	if err != nil {
		log.Fatal(err)
	}
	if pprofFlag != "" {
		go func() {
			if err := http.ListenAndServe(pprofFlag, nil); err != nil {
				log.Errorf("Failed to start pprof. Err: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := doWork(ctx, cfg); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
	log.Info("shutting down")
}
