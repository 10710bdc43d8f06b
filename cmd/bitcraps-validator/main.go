// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Command bitcraps-validator runs one validator process: the consensus
// engine, the mesh message substrate, the gateway-facing HTTP/websocket
// server, and process metrics, wired together from a single TOML
// configuration surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/bitcraps/bitcraps/common"
	bccrypto "github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/consensus"
	"github.com/bitcraps/bitcraps/gateway"
	"github.com/bitcraps/bitcraps/ledger"
	"github.com/bitcraps/bitcraps/log"
	"github.com/bitcraps/bitcraps/mesh"
	"github.com/bitcraps/bitcraps/metrics"
	"github.com/bitcraps/bitcraps/params"
	"github.com/bitcraps/bitcraps/storage"
)

func main() {
	app := &cli.App{
		Name:  "bitcraps-validator",
		Usage: "run a BitCraps consensus validator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to TOML config"},
			&cli.StringFlag{Name: "data-dir", Value: "./data", Usage: "validator data directory"},
			&cli.StringFlag{Name: "validator-key", Required: true, Usage: "path to this validator's hex-encoded Ed25519 private key"},
			&cli.StringFlag{Name: "committee", Required: true, Usage: "path to the committee roster JSON file"},
			&cli.Uint64Flag{Name: "epoch", Value: 1, Usage: "current validator-set epoch"},
			&cli.Uint64Flag{Name: "initial-treasury", Value: 1_000_000_000, Usage: "genesis treasury balance, for a fresh data directory"},
			&cli.StringFlag{Name: "listen-mesh", Value: ":7100", Usage: "address to receive peer mesh envelopes on"},
			&cli.StringFlag{Name: "listen-gateway", Value: ":7200", Usage: "address to serve the gateway HTTP/websocket API on"},
			&cli.StringFlag{Name: "listen-metrics", Value: ":7300", Usage: "address to serve /metrics on"},
			&cli.StringSliceFlag{Name: "peer", Usage: "mesh ingest URL of another validator, repeatable"},
			&cli.StringFlag{Name: "jwt-secret", Value: "change-me", Usage: "HMAC secret for the gateway's operator status endpoint"},
			&cli.StringSliceFlag{Name: "gateway", Usage: "known gateway as <id_hex>:<ed25519_pubkey_hex>, repeatable"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("bitcraps-validator exited with error", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if _, err := maxprocs.Set(maxprocs.Logger(func(f string, a ...any) { log.Info(fmt.Sprintf(f, a...)) })); err != nil {
		log.Warn("automaxprocs: failed to set GOMAXPROCS", "err", err)
	}

	dataDir := c.String("data-dir")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	fl := flock.New(filepath.Join(dataDir, "LOCK"))
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("locking data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is already locked by another validator process", dataDir)
	}
	defer fl.Unlock()

	cfg := params.Default()
	if path := c.String("config"); path != "" {
		cfg, err = params.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	cfg.DataDir = dataDir
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	selfPK, selfSK, err := loadValidatorKey(c.String("validator-key"))
	if err != nil {
		return err
	}
	self := validatorIDFromPublicKey(selfPK)

	entries, err := loadCommittee(c.String("committee"))
	if err != nil {
		return err
	}
	committeePKs, err := committeeToPublicKeys(entries)
	if err != nil {
		return err
	}
	vals := make([]consensus.Validator, len(committeePKs))
	for i, pk := range committeePKs {
		vals[i] = consensus.Validator{ID: validatorIDFromPublicKey(pk), PublicKey: pk}
	}
	vs := consensus.NewValidatorSet(common.Epoch(c.Uint64("epoch")), vals)
	if !vs.Contains(self) {
		return fmt.Errorf("this validator's key is not a member of the committee roster")
	}

	db, err := storage.OpenPebble(filepath.Join(dataDir, "state"))
	if err != nil {
		return fmt.Errorf("opening state db: %w", err)
	}
	defer db.Close()

	fsyncMode := storage.FsyncBatch
	if cfg.WalFsyncMode == params.FsyncPerCommit {
		fsyncMode = storage.FsyncAlways
	}

	consensusWalDir := filepath.Join(dataDir, "wal", "consensus")
	consensusWal, err := storage.OpenWAL(consensusWalDir, fsyncMode)
	if err != nil {
		return fmt.Errorf("opening consensus wal: %w", err)
	}
	defer consensusWal.Close()

	ledgerWalDir := filepath.Join(dataDir, "wal", "ledger")
	ledgerWal, err := storage.OpenWAL(ledgerWalDir, fsyncMode)
	if err != nil {
		return fmt.Errorf("opening ledger wal: %w", err)
	}
	defer ledgerWal.Close()

	led, err := ledger.New(db, ledgerWal, ledgerWalDir, c.Uint64("initial-treasury"))
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}

	eng, err := consensus.New(cfg, vs, self, selfSK, consensusWal, consensusWalDir, db, led)
	if err != nil {
		return fmt.Errorf("constructing consensus engine: %w", err)
	}
	log.Info("validator starting", "id", self.Hex(), "epoch", uint64(vs.Epoch), "committee_size", vs.N(), "last_committed_seq", uint64(eng.LastCommittedSequence()))

	registry := mesh.NewTaskRegistry()
	dedupCap := cfg.QueueCapacityConsensus * 4
	dispatcher := mesh.NewDispatcher(func(id common.ValidatorID) (bccrypto.PublicKey, bool) { return vs.PublicKey(id) }, dedupCap, cfg.QueueCapacityConsensus)

	publisher := gateway.NewPublisher()
	transport := newPeerTransport(self, selfSK, uint32(vs.Epoch), c.StringSlice("peer"))
	bc := &broadcaster{transport: transport, onCommit: func(rec *consensus.CommittedRecord) {
		publisher.Publish(gateway.CommitNotification{
			Seq:             rec.Seq,
			BatchHash:       consensus.BatchHash(rec.Ops),
			RandomnessProof: rec.Proof,
			QC:              rec.QC,
			StateDeltaSummary: gateway.StateDeltaSummary{
				StateRoot:       rec.StateRoot,
				LedgerRoot:      rec.LedgerRoot,
				TreasuryBalance: rec.TreasuryBalance,
			},
		})
	}}
	registerEngineHandlers(dispatcher, eng, bc)

	gateways, err := parseGateways(c.StringSlice("gateway"))
	if err != nil {
		return fmt.Errorf("parsing --gateway: %w", err)
	}

	acc := &batchAccumulator{}
	statusFn := func() map[string]any {
		return map[string]any{
			"validator":      self.Hex(),
			"last_committed": uint64(eng.LastCommittedSequence()),
			"tasks":          registry.Status(),
			"mesh":           dispatcher.Stats(),
			"reputation":     eng.Reputation().SnapshotSorted(),
		}
	}
	gw := gateway.NewServer(
		func(id common.Hash) (bccrypto.PublicKey, bool) { pk, ok := gateways[id]; return pk, ok },
		acc,
		[]byte(c.String("jwt-secret")),
		publisher,
		statusFn,
		nil,
	)

	promReg := prometheus.NewRegistry()
	mreg := metrics.New(promReg)
	sampler, err := metrics.NewSampler(mreg)
	if err != nil {
		log.Warn("metrics sampler unavailable", "err", err)
	}

	stop := make(chan struct{})
	bg := context.Background()
	_, ctx := registry.Register(bg, "mesh-ingest", mesh.TaskNetwork, func() mesh.Health { return mesh.Health{Healthy: true} })
	_, _ = registry.Register(bg, "consensus-applier", mesh.TaskConsensus, func() mesh.Health { return mesh.Health{Healthy: true} })
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				for _, e := range dispatcher.Drain() {
					log.Warn("mesh handler error", "err", e)
				}
				mreg.SetQueueDepth(dispatcher.Stats().QueueDepth)
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	go leaderLoop(stop, 200*time.Millisecond, eng, acc, bc, cfg.BatchSize)
	go timeoutLoop(stop, cfg.BaseTimeout()*4, eng, bc)
	if sampler != nil {
		go sampler.Run(stop, 5*time.Second)
	}

	meshSrv := &http.Server{Addr: c.String("listen-mesh"), Handler: ingestHandler(dispatcher)}
	gatewaySrv := &http.Server{Addr: c.String("listen-gateway"), Handler: gw}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: c.String("listen-metrics"), Handler: metricsMux}

	var g errgroup.Group
	g.Go(func() error { return serveUntilClosed(meshSrv, "mesh") })
	g.Go(func() error { return serveUntilClosed(gatewaySrv, "gateway") })
	g.Go(func() error { return serveUntilClosed(metricsSrv, "metrics") })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	close(stop)
	registry.Shutdown(5 * time.Second)
	meshSrv.Close()
	gatewaySrv.Close()
	metricsSrv.Close()
	if err := g.Wait(); err != nil {
		log.Warn("listener group exited with error", "err", err)
	}
	return eng.Checkpoint()
}

func serveUntilClosed(srv *http.Server, name string) error {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(name+" listener stopped", "err", err)
		return err
	}
	return nil
}
