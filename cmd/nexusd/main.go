// Command nexusd is the signaling server entrypoint: it wires persistence,
// auth, the in-memory registry, the three command handlers, the UDP relay,
// the HTTPS CRUD surface, and the metrics endpoint, then runs the TCP
// accept loop.
//
// Grounded on server/main.go's flag-then-wire-then-run shape, generalized
// from flag.String bring-up to internal/config's viper-backed Load, and
// from the teacher's in-process Room/Server pair to this repo's
// registry.Registry/session.Loop pair.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/auth"
	"github.com/commanderxa/nexus/internal/callsignal"
	"github.com/commanderxa/nexus/internal/config"
	"github.com/commanderxa/nexus/internal/httpapi"
	"github.com/commanderxa/nexus/internal/logging"
	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/objectstore"
	"github.com/commanderxa/nexus/internal/registry"
	"github.com/commanderxa/nexus/internal/router"
	"github.com/commanderxa/nexus/internal/session"
	"github.com/commanderxa/nexus/internal/store"
	"github.com/commanderxa/nexus/internal/tlsutil"
	"github.com/commanderxa/nexus/internal/transfer"
	"github.com/commanderxa/nexus/internal/udprelay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	st, err := openStoreWithRetry(cfg.StorePath, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	reg := registry.New(log)

	promReg := prometheusRegistry()
	collector := metrics.NewPrometheusCollector(promReg)
	metrics.RegisterRegistryGauges(promReg, reg)

	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		log.Fatal("new jwt issuer", zap.Error(err))
	}
	gate := auth.NewGate(issuer, st, collector, log)

	objStore, err := objectstore.New(context.Background(), objectstore.Config{
		Host:      cfg.MinioHost,
		Port:      cfg.MinioPort,
		AccessKey: cfg.MinioRootUser,
		SecretKey: cfg.MinioRootPass,
	}, log)
	if err != nil {
		log.Warn("object store disabled", zap.Error(err))
	}

	messages := router.New(st, reg, collector, log)
	calls := callsignal.New(st, reg, collector, log)
	files := transfer.New(cfg.StorageMedia, st, objStore, collector, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	metricsServer := metrics.NewServer(cfg.MetricsAddr, promReg)
	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	tlsCfg, err := tlsutil.Load(cfg.TLSCertPath, cfg.TLSKeyPath, "nexus")
	if err != nil {
		log.Fatal("load tls config", zap.Error(err))
	}

	httpServer := httpapi.New(st, issuer, tlsCfg, log)
	go httpServer.Run(ctx, cfg.HTTPAddr)

	relay, err := udprelay.Listen(cfg.UDPAddr, reg, collector, log)
	if err != nil {
		log.Fatal("listen udp relay", zap.Error(err))
	}
	go func() {
		if err := relay.Run(); err != nil {
			log.Error("udp relay error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		relay.Close()
	}()

	if err := runTCPAcceptLoop(ctx, cfg.Addr, reg, gate, messages, calls, files, collector, log); err != nil {
		log.Fatal("tcp accept loop", zap.Error(err))
	}
}

func prometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func openStoreWithRetry(path string, log *zap.Logger) (*store.Store, error) {
	var lastErr error
	for attempt := 1; attempt <= config.StartupRetryAttempts; attempt++ {
		st, err := store.Open(path, log)
		if err == nil {
			return st, nil
		}
		lastErr = err
		log.Warn("store open failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(config.StartupRetryDelay)
	}
	return nil, lastErr
}

func runTCPAcceptLoop(
	ctx context.Context,
	addr string,
	reg *registry.Registry,
	gate *auth.Gate,
	messages *router.Router,
	calls *callsignal.Engine,
	files *transfer.Transfer,
	collector metrics.Collector,
	log *zap.Logger,
) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("signaling server listening", zap.String("addr", addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Warn("accept error", zap.Error(err))
				continue
			}
		}

		go func() {
			defer conn.Close()
			loop := session.New(
				session.NewFramer(conn, session.DefaultMaxFrameSize),
				reg, gate, messages, calls, files, collector, log, conn.RemoteAddr().String(),
			)
			if err := loop.Run(ctx); err != nil {
				log.Debug("session ended", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
		}()
	}
}
