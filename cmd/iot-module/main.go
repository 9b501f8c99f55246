// Command iot-module runs the sensor node: it serves state and settings
// over HTTP, accepts firmware uploads in a maintenance window and
// publishes motion events to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/iot-module/internal/config"
	"github.com/sweeney/iot-module/internal/device"
	"github.com/sweeney/iot-module/internal/gpio"
	"github.com/sweeney/iot-module/internal/metrics"
	"github.com/sweeney/iot-module/internal/mqtt"
	"github.com/sweeney/iot-module/internal/ota"
	"github.com/sweeney/iot-module/internal/presence"
	"github.com/sweeney/iot-module/internal/status"
	"github.com/sweeney/iot-module/internal/web"
)

// buildTime is set with -ldflags "-X main.buildTime=...".
var buildTime string

func main() {
	cfg, opts, err := config.Parse(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type namedServer struct {
	name string
	addr string
	srv  server
}

func run(cfg config.Config, opts config.Options) error {
	reader, err := gpio.NewRealReader(cfg.GPIO())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	if opts.PrintState {
		on, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("Motion: %s\n", stateString(on))
		return nil
	}

	hostname := resolveHostname(cfg.Hostname)
	bootID := uuid.NewString()
	metrics.Init()

	publisher, err := newPublisher(cfg, hostname)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	dispatcher := web.NewDispatcher(cfg.QueueTimeout)
	uploads := ota.NewServer(cfg.UploadAddr, ota.ServerConfig{
		FirmwarePath:   cfg.FirmwarePath,
		FilesystemPath: cfg.FilesystemPath,
		PasswordMD5:    cfg.UploadMD5,
	})
	app := presence.New(reader, publisher, time.Duration(cfg.MotionHoldMs)*time.Millisecond)

	rt := device.New(app, dispatcher, uploads, publisher, device.ExecRestarter{}, device.Options{
		Hostname:  hostname,
		Firmware:  firmwareString(),
		BootID:    bootID,
		Heartbeat: cfg.Heartbeat,
		Network:   readNetworkInfo,
	})
	if err := rt.Setup(); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	var servers []namedServer
	if cfg.HTTPAddr != "" {
		servers = append(servers, namedServer{"http", cfg.HTTPAddr, web.New(cfg.HTTPAddr, dispatcher)})
	}
	if cfg.UploadAddr != "" {
		servers = append(servers, namedServer{"upload", cfg.UploadAddr, uploads})
	}
	if cfg.MetricsAddr != "" {
		servers = append(servers, namedServer{"metrics", cfg.MetricsAddr, web.New(cfg.MetricsAddr, metrics.Handler())})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	for _, s := range servers {
		s := s
		g.Go(func() error {
			log.Printf("%s server listening on %s", s.name, s.addr)
			if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", s.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		for _, s := range servers {
			if err := s.srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("%s server shutdown: %v", s.name, err)
			}
		}
		return nil
	})

	log.Printf("started: host=%s poll=%v broker=%s heartbeat=%v pin=%s/%d",
		hostname, cfg.Poll, cfg.Broker, cfg.Heartbeat, cfg.GPIOChip, cfg.Pin)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	loopErr := runLoop(gctx, rt, ticker.C, sigCh)
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return loopErr
}

// runLoop publishes STARTUP, runs the scheduler until a signal arrives or
// ctx is done, then publishes SHUTDOWN.
func runLoop(ctx context.Context, rt *device.Runtime, tick <-chan time.Time, sig <-chan os.Signal) error {
	rt.PublishStatus("STARTUP", "", true)
	log.Printf("published startup event")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reasons := make(chan string, 1)
	go func() {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reasons <- signalName(s)
			cancel()
		case <-loopCtx.Done():
		}
	}()

	err := rt.Run(loopCtx, tick)

	reason := "stopped"
	select {
	case reason = <-reasons:
	default:
	}
	rt.PublishStatus("SHUTDOWN", reason, true)
	log.Printf("published shutdown event")
	return err
}

func newPublisher(cfg config.Config, hostname string) (mqtt.Publisher, error) {
	if cfg.Broker == "" {
		log.Printf("mqtt: no broker configured, events are discarded")
		return mqtt.Discard{}, nil
	}
	p, err := mqtt.NewRealPublisher(mqtt.RealConfig{
		Broker:   cfg.Broker,
		ClientID: clientID(hostname),
		Topics:   mqtt.TopicsFor(topicPrefix(cfg.TopicPrefix, hostname)),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func resolveHostname(configured string) string {
	if configured != "" {
		return configured
	}
	h, err := os.Hostname()
	if err != nil {
		log.Printf("hostname: %v", err)
		return "iot-module"
	}
	return h
}

// topicPrefix returns the configured prefix or "iot/<hostname>".
func topicPrefix(configured, hostname string) string {
	if configured != "" {
		return configured
	}
	return mqtt.DefaultTopicPrefix + "/" + hostname
}

// clientID keeps MQTT client ids unique across restarts of the same host.
func clientID(hostname string) string {
	return hostname + "-" + uuid.NewString()[:8]
}

// firmwareString describes the running build.
func firmwareString() string {
	if buildTime != "" {
		return buildTime
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var revision, vcsTime string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}
	if revision == "" {
		return "dev"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if vcsTime != "" {
		return revision + " " + vcsTime
	}
	return revision
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
