package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/veritas-care/evv/aggregator"
	"github.com/veritas-care/evv/config"
	"github.com/veritas-care/evv/engine"
	"github.com/veritas-care/evv/evidence"
	"github.com/veritas-care/evv/logging"
	"github.com/veritas-care/evv/metrics"
	"github.com/veritas-care/evv/policy"
	"github.com/veritas-care/evv/server"
	"github.com/veritas-care/evv/store/memstore"
	"github.com/veritas-care/evv/store/redisq"
	"github.com/veritas-care/evv/syncer"
	"github.com/veritas-care/evv/vmur"
)

// dispatcherSubmitter adapts the dispatcher to the unlock workflow's narrower
// submission interface.
type dispatcherSubmitter struct {
	d *aggregator.Dispatcher
}

func (s dispatcherSubmitter) Submit(ctx context.Context, recordID string) error {
	_, err := s.d.Submit(ctx, recordID)
	return err
}

func StartEVVServer(cliCtx *cli.Context) error {
	log, err := logging.NewLogger(logging.ReadCLIConfig(cliCtx))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Infow("starting EVV core", "version", Version, "commit", Commit, "date", Date)

	cfg := config.ReadCLIConfig(cliCtx)
	if err := cfg.Check(); err != nil {
		return err
	}

	m := metrics.NewMetrics("default")

	ctx, stop := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policies := policy.NewTable()
	if cfg.PolicyFile != "" {
		rows, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return err
		}
		if err := policies.Swap(rows); err != nil {
			return err
		}
		log.Infow("loaded state policy overrides", "file", cfg.PolicyFile, "states", len(rows))
	}

	st := memstore.New()

	var sched aggregator.RetryScheduler
	if cfg.Redis.Enabled {
		queue, err := redisq.NewQueue(ctx, redisq.Config{
			Endpoint: cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connecting retry queue: %w", err)
		}
		defer func() { _ = queue.Close() }()
		sched = queue
		log.Infow("retry schedule persisted in redis", "endpoint", cfg.Redis.Endpoint)
	}

	registry := aggregator.NewRegistry(cfg.AggregatorCreds)
	dispatcher := aggregator.NewDispatcher(log, m, st, registry, policies, sched)
	eng := engine.New(log, m, st, policies)
	sync := syncer.New(log, m, st, eng)
	workflow := vmur.New(log, m, st, eng, policies, dispatcherSubmitter{d: dispatcher})
	dispatcher.WithAckListener(workflow)

	svr := server.NewServer(
		cfg.Server.Host, cfg.Server.Port,
		log, m, eng, sync, dispatcher, workflow, st)

	if cfg.EvidenceEnabled {
		ev, err := evidence.NewStore(ctx, log, cfg.Evidence)
		if err != nil {
			return fmt.Errorf("connecting evidence store: %w", err)
		}
		svr.WithEvidence(ev)
		log.Infow("photo evidence store connected", "bucket", cfg.Evidence.Bucket)
	}

	if err := svr.Start(); err != nil {
		return fmt.Errorf("starting EVV server: %w", err)
	}
	defer func() {
		if err := svr.Stop(); err != nil {
			log.Errorw("stopping EVV server", "err", err)
		}
	}()

	worker := aggregator.NewRetryWorker(log, st, dispatcher)
	if cfg.Workers.RetryPollInterval > 0 {
		worker.PollInterval = cfg.Workers.RetryPollInterval
	}
	go worker.Run(ctx)
	go workflow.RunSweeper(ctx, cfg.Workers.VMURSweepInterval)

	if cfg.Metrics.Enabled {
		msvr, err := m.StartServer(cfg.Metrics.Host, cfg.Metrics.Port)
		if err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer func() {
			if err := msvr.Stop(context.Background()); err != nil {
				log.Errorw("stopping metrics server", "err", err)
			}
		}()
		log.Infow("started metrics server", "addr", msvr.Addr())
	}

	m.RecordInfo(Version)
	m.RecordUp()
	log.Infow("EVV core started", "endpoint", svr.Endpoint())

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}
