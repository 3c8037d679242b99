package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/powchain/app/services/node/handlers"
	"github.com/ardanlabs/powchain/business/core/monitor"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/blockchain/wallet"
	"github.com/ardanlabs/powchain/foundation/blockchain/worker"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/logger"
	"github.com/ardanlabs/powchain/foundation/metrics"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:localhost:9080"`
		}
		Node struct {
			ID                string        `conf:"help:generated when empty"`
			Host              string        `conf:"default:0.0.0.0"`
			Port              int           `conf:"default:3000"`
			KnownPeers        []string      `conf:"help:peer addresses dialed at startup"`
			TunnelAddress     string        `conf:"help:address advertised to peers instead of the listener"`
			MaxInbounds       int           `conf:"default:8"`
			MaxOutbounds      int           `conf:"default:8"`
			ReconnectRetries  int           `conf:"default:10"`
			ReconnectInterval time.Duration `conf:"default:5s"`
			VoteTimeout       time.Duration `conf:"default:5s"`
			Mine              bool          `conf:"default:false"`
			SelectStrategy    string        `conf:"default:fee"`
			FeeThreshold      string        `conf:"default:0"`
			GenesisPath       string        `conf:"help:JSON file overriding the default genesis"`
		}
		Wallet struct {
			KeyPath string `conf:"default:zblock/node.ecdsa"`
		}
		Events struct {
			NATSURL     string `conf:"help:publish node events to this NATS server"`
			NATSSubject string `conf:"default:powchain.events"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "proof of work blockchain node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	gen := genesis.Default()
	if cfg.Node.GenesisPath != "" {
		if gen, err = genesis.Load(cfg.Node.GenesisPath); err != nil {
			return fmt.Errorf("unable to load genesis: %w", err)
		}
	}

	feeThreshold, err := decimal.NewFromString(cfg.Node.FeeThreshold)
	if err != nil {
		return fmt.Errorf("parsing fee threshold: %w", err)
	}

	// Need to load the private key file for the node so the account can get
	// credited with rewards and fees.
	kp, err := loadKeyPair(log, cfg.Wallet.KeyPath)
	if err != nil {
		return err
	}

	m := metrics.New()

	// The blockchain packages accept a function of this signature to allow the
	// application to log.
	ev := func(v string, args ...any) {
		log.Infof(v, args...)
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support.
	st, err := state.New(state.Config{
		Genesis:        gen,
		Wallet:         wallet.New(kp, gen),
		NodeID:         cfg.Node.ID,
		SelectStrategy: cfg.Node.SelectStrategy,
		FeeThreshold:   feeThreshold,
		MaxInbounds:    cfg.Node.MaxInbounds,
		MaxOutbounds:   cfg.Node.MaxOutbounds,
		VoteTimeout:    cfg.Node.VoteTimeout,
		PeerMiddleware: handlers.PeerMiddleware(log, m),
		EvHandler:      ev,
	})
	if err != nil {
		return err
	}

	log.Infow("startup", "status", "node constructed", "id", st.NodeID(), "address", st.Address())

	// The worker package implements the mining, dialing and probing workflows.
	// The worker will register itself with the state.
	worker.Run(st, ev, worker.WithReconnect(cfg.Node.ReconnectRetries, cfg.Node.ReconnectInterval))

	// =========================================================================
	// Events Support

	// Notifications are sent to any websocket client connected to the events
	// route and, when configured, published to NATS.
	evts := events.NewEvents()

	var publisher monitor.Publisher
	if cfg.Events.NATSURL != "" {
		emitter, err := events.NewEmitter(cfg.Events.NATSURL, cfg.Events.NATSSubject, "powchain-"+st.NodeID())
		if err != nil {
			return err
		}
		defer emitter.Close()

		publisher = emitter
		log.Infow("startup", "status", "nats emitter connected", "url", cfg.Events.NATSURL, "subject", cfg.Events.NATSSubject)
	}

	mon := monitor.New(monitor.Config{
		Log:       log,
		Metrics:   m,
		Events:    evts,
		Publisher: publisher,
	})

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return st.Run(ctx)
	})

	g.Go(func() error {
		return mon.Run(ctx, st.Notifications())
	})

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	ready := func() error {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply := make(chan state.Balance, 1)
		if err := st.Submit(ctx, state.QueryBalance{Reply: reply}); err != nil {
			return err
		}

		select {
		case <-reply:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, m, ready)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start Public and Private Services

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Monitor:  mon,
		Evts:     evts,
		Metrics:  m,
	}

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	for _, srv := range []*http.Server{&public, &private} {
		g.Go(func() error {
			log.Infow("startup", "status", "api router started", "host", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	// =========================================================================
	// Start Peer Network

	if err := st.Submit(ctx, state.StartNetwork{
		Host:          cfg.Node.Host,
		Port:          cfg.Node.Port,
		Peers:         cfg.Node.KnownPeers,
		TunnelAddress: cfg.Node.TunnelAddress,
	}); err != nil {
		return fmt.Errorf("starting network: %w", err)
	}

	if cfg.Node.Mine {
		if err := st.Submit(ctx, state.StartMining{}); err != nil {
			return fmt.Errorf("starting mining: %w", err)
		}
	}

	// =========================================================================
	// Shutdown

	g.Go(func() error {
		select {
		case sig := <-shutdown:
			log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		case <-ctx.Done():
		}

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		sctx, scancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer scancel()

		// Asking listeners to shut down and shed load.
		var errs []error
		for _, srv := range []*http.Server{&private, &public} {
			log.Infow("shutdown", "status", "shutdown api started", "host", srv.Addr)
			if err := srv.Shutdown(sctx); err != nil {
				srv.Close()
				errs = append(errs, fmt.Errorf("could not stop server %s gracefully: %w", srv.Addr, err))
			}
		}

		// Stop the core loop and the monitor.
		cancel()

		return errors.Join(errs...)
	})

	return g.Wait()
}

// loadKeyPair reads the node key file, creating it on first start.
func loadKeyPair(log *zap.SugaredLogger, path string) (signature.KeyPair, error) {
	privateKey, err := crypto.LoadECDSA(path)
	switch {
	case err == nil:
		return signature.FromPrivateKey(privateKey), nil

	case !errors.Is(err, os.ErrNotExist):
		return signature.KeyPair{}, fmt.Errorf("unable to load private key for node: %w", err)
	}

	privateKey, err = crypto.GenerateKey()
	if err != nil {
		return signature.KeyPair{}, fmt.Errorf("generating private key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return signature.KeyPair{}, fmt.Errorf("creating key folder: %w", err)
	}

	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		return signature.KeyPair{}, fmt.Errorf("saving private key: %w", err)
	}

	log.Infow("startup", "status", "generated node key", "path", path)

	return signature.FromPrivateKey(privateKey), nil
}
