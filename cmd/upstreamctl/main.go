// upstreamctl — loads an upstream pool configuration, keeps it alive,
// and exposes health and Prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	nethttp "net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailward/upstream/internal/config"
	"github.com/mailward/upstream/internal/logging"
	"github.com/mailward/upstream/internal/upsmetrics"
	"github.com/mailward/upstream/pkg/upstream"
	"github.com/mailward/upstream/pkg/upstream/resolver"
)

func main() {
	configPath := flag.String("config", "/etc/upstreamd/upstreamd.toml", "path to configuration file")
	listenAddr := flag.String("listen", "0.0.0.0:9190", "address for /metrics and /status")
	dnsServer := flag.String("dns-server", "8.8.8.8:53", "recursive resolver used for upstream hostname lookups")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	debugPort := flag.String("debug-port", "", "enable pprof debug server on this port (e.g. 6060)")
	flag.Parse()

	if *debugPort != "" {
		runtime.SetMutexProfileFraction(5)
		go func() {
			addr := "0.0.0.0:" + *debugPort
			fmt.Fprintf(os.Stderr, "pprof debug server on http://%s/debug/pprof/\n", addr)
			if err := nethttp.ListenAndServe(addr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server failed: %v\n", err)
			}
		}()
	}

	logger := logging.Setup(*logLevel, os.Stdout)

	doc, err := config.Load(*configPath)
	if err != nil {
		logger.Error("FATAL: failed to load config", "error", err)
		os.Exit(1)
	}

	overrides, err := doc.Overrides()
	if err != nil {
		logger.Error("FATAL: invalid limits", "error", err)
		os.Exit(1)
	}

	ctx := upstream.Init()
	ctx.Configure(overrides, resolver.NewMiekg(*dnsServer), logger)

	lists, err := doc.BuildLists(ctx)
	if err != nil {
		logger.Error("FATAL: failed to build upstream lists", "error", err)
		os.Exit(1)
	}

	for name, list := range lists {
		upsmetrics.Watch(name, list)
		logging.ForList(logger, name).Info("upstream list loaded", "upstreams", list.Count())
	}

	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		status := make(map[string]any, len(lists))
		for name, list := range lists {
			status[name] = map[string]int{
				"total": list.Count(),
				"alive": list.AliveCount(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	server := &nethttp.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		logger.Info("status/metrics server listening", "addr", *listenAddr)
		if err := server.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			logger.Error("status/metrics server failed", "error", err)
		}
	}()

	logger.Info("upstreamctl ready", "config", *configPath, "lists", len(lists))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGUSR1:
			logger.Info("received SIGUSR1, forcing re-resolution of every list")
			ctx.Reresolve()

		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("received shutdown signal", "signal", sig.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = server.Shutdown(shutdownCtx)
			cancel()

			for _, list := range lists {
				list.Destroy()
			}
			ctx.Unref()

			logger.Info("upstreamctl stopped")
			return
		}
	}
}
