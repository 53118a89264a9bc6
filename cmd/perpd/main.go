package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	nats "github.com/nats-io/nats.go"

	"github.com/luxfi/perps/pkg/api"
	"github.com/luxfi/perps/pkg/auth"
	"github.com/luxfi/perps/pkg/custody"
	"github.com/luxfi/perps/pkg/events"
	"github.com/luxfi/perps/pkg/feed"
	"github.com/luxfi/perps/pkg/metrics"
	"github.com/luxfi/perps/pkg/oracle"
	"github.com/luxfi/perps/pkg/perp"
	"github.com/luxfi/perps/pkg/store"
)

const (
	defaultDataDir     = ".perpd"
	defaultRPCPort     = 8080
	defaultMetricsPort = 9090
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Market
	Asset             string
	Leverage          int64
	SettlementToken   string
	MarginRequirement int64
	FeedName          string

	// Network
	RPCPort     int
	MetricsPort int
	NATSUrl     string
	ZMQEndpoint string
	FeedURL     string
	FeedScale   int

	// Auth
	AuthKeys string
	GrantTTL time.Duration

	// Persistence
	SnapshotEvery time.Duration

	// Genesis
	Reserve int64
}

type Node struct {
	config *Config
	logger log.Logger

	db      database.Database
	store   *store.Store
	rpc     *api.JSONRPCServer
	vault   *custody.Vault
	oracle  *oracle.Oracle
	engine  *perp.Engine
	metrics *metrics.Metrics
	zmq     *events.ZMQ
	natsc   *nats.Conn
	feed    *feed.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNode(config *Config, logger log.Logger) (*Node, error) {
	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataPath, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "perpd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("badgerdb unavailable, falling back to memory", "err", err)
		db, err = dbManager.New(manager.DefaultMemoryConfig())
		if err != nil {
			return nil, fmt.Errorf("create database: %w", err)
		}
	} else {
		logger.Info("badgerdb initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	vault := custody.NewVault(config.SettlementToken)
	priceOracle := oracle.New(config.Asset, 5*time.Minute, config.FeedName)

	sinks := events.Fanout{events.NewLogged(logger.New("module", "events"))}

	var natsc *nats.Conn
	if config.NATSUrl != "" {
		natsc, err = nats.Connect(config.NATSUrl)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		sinks = append(sinks, events.NewNATS(natsc, logger.New("module", "nats")))
	}

	var zmqSink *events.ZMQ
	if config.ZMQEndpoint != "" {
		zmqSink, err = events.NewZMQ(config.ZMQEndpoint, logger.New("module", "zmq"))
		if err != nil {
			if natsc != nil {
				natsc.Close()
			}
			db.Close()
			return nil, fmt.Errorf("bind zmq: %w", err)
		}
		sinks = append(sinks, zmqSink)
	}

	authorizer, registry, err := buildAuthorizer(config)
	if err != nil {
		if zmqSink != nil {
			zmqSink.Close()
		}
		if natsc != nil {
			natsc.Close()
		}
		db.Close()
		return nil, fmt.Errorf("configure auth: %w", err)
	}

	engine, err := perp.New(perp.Config{
		Asset:             config.Asset,
		Leverage:          config.Leverage,
		SettlementToken:   config.SettlementToken,
		Oracle:            config.FeedName,
		MarginRequirement: config.MarginRequirement,
	}, vault, priceOracle, authorizer, sinks)
	if err != nil {
		if zmqSink != nil {
			zmqSink.Close()
		}
		if natsc != nil {
			natsc.Close()
		}
		db.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}

	var feedClient *feed.Client
	if config.FeedURL != "" {
		feedClient = feed.NewClient(feed.Config{
			URL:    config.FeedURL,
			Symbol: config.Asset,
			Name:   config.FeedName,
			Scale:  int32(config.FeedScale),
		}, priceOracle, logger.New("module", "feed"))
	}

	stats := metrics.New("perps")

	rpc := api.NewJSONRPCServer(engine, priceOracle, logger.New("module", "rpc"))
	rpc.SetStats(stats)
	if registry != nil {
		rpc.SetGranter(registry)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		config:  config,
		logger:  logger,
		db:      db,
		store:   store.New(db),
		rpc:     rpc,
		vault:   vault,
		oracle:  priceOracle,
		engine:  engine,
		metrics: stats,
		zmq:     zmqSink,
		natsc:   natsc,
		feed:    feedClient,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// buildAuthorizer assembles the engine authorizer. Without a key file the
// node runs open access (custody account still barred); with one, every
// principal must hold a live signed grant in the registry, obtained via
// perp_grant.
func buildAuthorizer(config *Config) (perp.Authorizer, *auth.Registry, error) {
	if config.AuthKeys == "" {
		return authChain{custodyGuard{}}, nil, nil
	}

	raw, err := os.ReadFile(config.AuthKeys)
	if err != nil {
		return nil, nil, err
	}
	keys := make(map[string]string)
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", config.AuthKeys, err)
	}

	registry := auth.NewRegistry(config.GrantTTL)
	for principal, encoded := range keys {
		pub, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(pub) != 32 {
			return nil, nil, fmt.Errorf("bad public key for %s", principal)
		}
		var key [32]byte
		copy(key[:], pub)
		registry.RegisterKey(principal, &key)
	}
	return authChain{custodyGuard{}, registry}, registry, nil
}

// authChain requires every member to pass.
type authChain []perp.Authorizer

func (c authChain) Require(principal string) error {
	for _, a := range c {
		if err := a.Require(principal); err != nil {
			return err
		}
	}
	return nil
}

// custodyGuard blocks the reserved custody account from trading.
type custodyGuard struct{}

func (custodyGuard) Require(principal string) error {
	if principal == custody.CustodyAccount {
		return fmt.Errorf("reserved account %q may not trade", principal)
	}
	return nil
}

func (n *Node) Start() error {
	if err := n.loadState(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	n.wg.Add(1)
	go n.runRPCServer()

	n.wg.Add(1)
	go n.runMetricsServer()

	n.wg.Add(1)
	go n.runSnapshots()

	if n.feed != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.feed.Run(n.ctx)
		}()
	}

	n.logger.Info("perpd started",
		"asset", n.config.Asset,
		"leverage", n.config.Leverage,
		"token", n.config.SettlementToken,
		"rpcPort", n.config.RPCPort,
	)
	return nil
}

func (n *Node) runRPCServer() {
	defer n.wg.Done()
	if err := n.rpc.Serve(n.ctx, n.config.RPCPort); err != nil && err != http.ErrServerClosed {
		n.logger.Error("rpc server stopped", "err", err)
	}
}

func (n *Node) runMetricsServer() {
	defer n.wg.Done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", n.metrics.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.MetricsPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		server.Shutdown(context.Background())
	}()

	n.logger.Info("metrics server started", "port", n.config.MetricsPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("metrics server stopped", "err", err)
	}
}

// runSnapshots persists the ledger and balances periodically and refreshes
// the exported gauges.
func (n *Node) runSnapshots() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := n.saveState(); err != nil {
				n.logger.Error("snapshot failed", "err", err)
			}
			n.updateGauges()
		}
	}
}

func (n *Node) updateGauges() {
	n.engine.Ledger(func(l *perp.Ledger) {
		long, _ := new(big.Float).SetInt(l.TotalLong()).Float64()
		short, _ := new(big.Float).SetInt(l.TotalShort()).Float64()
		n.metrics.SetNotional(long, short)
		n.metrics.SetOpenPositions(float64(l.OpenCount()))
	})
	if price, err := n.oracle.CurrentPrice(); err == nil {
		f, _ := new(big.Float).SetInt(price).Float64()
		n.metrics.SetOraclePrice(f)
	}
}

func (n *Node) loadState() error {
	snap, err := n.store.LoadLedger()
	if err != nil {
		return err
	}
	if snap != nil {
		if err := n.engine.Restore(snap); err != nil {
			return err
		}
		n.logger.Info("ledger restored", "open", len(snap.Positions), "closed", len(snap.History))
	}

	balances, err := n.store.LoadBalances()
	if err != nil {
		return err
	}
	if balances != nil {
		n.vault.SetBalances(balances)
		n.logger.Info("balances restored", "accounts", len(balances))
		return nil
	}

	// Fresh start: seat the custody reserve that backs settlements.
	if n.config.Reserve > 0 {
		if err := n.vault.Mint(custody.CustodyAccount, big.NewInt(n.config.Reserve)); err != nil {
			return err
		}
		n.logger.Info("custody reserve minted", "amount", n.config.Reserve)
	}
	return nil
}

func (n *Node) saveState() error {
	if err := n.store.SaveLedger(n.engine.Snapshot()); err != nil {
		return err
	}
	return n.store.SaveBalances(n.vault.Balances())
}

func (n *Node) Shutdown() {
	n.logger.Info("shutting down")

	n.cancel()
	n.wg.Wait()

	if err := n.saveState(); err != nil {
		n.logger.Error("final snapshot failed", "err", err)
	}

	if n.zmq != nil {
		n.zmq.Close()
	}
	if n.natsc != nil {
		n.natsc.Close()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info("shutdown complete")
}

func main() {
	config := &Config{}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.StringVar(&config.Asset, "asset", "BTC", "Underlying asset")
	flag.Int64Var(&config.Leverage, "leverage", 10, "Fixed leverage multiplier")
	flag.StringVar(&config.SettlementToken, "token", "pUSD", "Settlement token")
	flag.Int64Var(&config.MarginRequirement, "margin-bps", perp.DefaultMarginRequirement, "Liquidation threshold in basis points")
	flag.StringVar(&config.FeedName, "feed-name", "primary", "Oracle feed identity")

	flag.IntVar(&config.RPCPort, "rpc-port", defaultRPCPort, "JSON-RPC port")
	flag.IntVar(&config.MetricsPort, "metrics-port", defaultMetricsPort, "Prometheus metrics port")
	flag.StringVar(&config.NATSUrl, "nats", "", "NATS URL for event publishing (empty to disable)")
	flag.StringVar(&config.ZMQEndpoint, "zmq", "", "ZeroMQ PUB endpoint for event publishing (empty to disable)")
	flag.StringVar(&config.FeedURL, "feed-url", "", "WebSocket ticker feed URL (empty to disable)")
	flag.IntVar(&config.FeedScale, "feed-scale", 0, "Decimal shift applied to feed prices")

	flag.StringVar(&config.AuthKeys, "auth-keys", "", "JSON file of principal to base64 public key (empty for open access)")
	grantTTL := flag.Duration("grant-ttl", 15*time.Minute, "How long a signed grant stays valid")

	snapshotEvery := flag.Duration("snapshot-every", 30*time.Second, "State persistence interval")
	flag.Int64Var(&config.Reserve, "reserve", 0, "Custody reserve minted on first start")

	flag.Parse()
	config.GrantTTL = *grantTTL
	config.SnapshotEvery = *snapshotEvery

	if _, err := log.ToLevel(config.LogLevel); err != nil {
		fmt.Printf("Invalid log level %q: %v\n", config.LogLevel, err)
		os.Exit(1)
	}
	logger := log.Root().New("module", "perpd")

	logger.Info("starting perpd",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", filepath.Join(os.Getenv("HOME"), config.DataDir),
	)

	node, err := NewNode(config, logger)
	if err != nil {
		logger.Error("failed to create node", "err", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		logger.Error("failed to start node", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal", "signal", sig.String())

	node.Shutdown()
}
