package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"actcore/internal/audit"
	"actcore/internal/config"
	"actcore/internal/filter"
	"actcore/internal/logging"
	"actcore/internal/memory"
	"actcore/internal/metrics"
	"actcore/internal/scheduler"
	"actcore/internal/secrets"
	"actcore/internal/shutdown"
	"actcore/internal/store"
	"actcore/internal/tracing"

	"github.com/prometheus/client_golang/prometheus"
)

// runtime holds every collaborator the CLI wires into the handlers.
type runtime struct {
	store     *store.LocalStore
	graph     *memory.Graph
	audit     *audit.Log
	secrets   *secrets.Service
	scheduler *scheduler.Scheduler
	filter    *filter.Service
	tracker   *tracing.Tracker
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	shutdown  *shutdown.Coordinator

	closers []func() error
}

// openRuntime opens the sqlite stores named in c. The secrets store is
// only opened when a master key is configured.
func openRuntime(c *config.Config) (*runtime, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "openRuntime")
	defer timer.Stop()

	rt := &runtime{
		filter:   filter.New(),
		registry: prometheus.NewRegistry(),
		shutdown: shutdown.New(),
	}
	rt.metrics = metrics.New(rt.registry)

	var err error
	if rt.store, err = store.NewLocalStore(c.Database.Path); err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.store.Close)

	if rt.graph, err = memory.Open(c.Database.MemoryPath); err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.graph.Close)

	if rt.audit, err = openAudit(c); err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.audit.Close)

	if c.Secrets.MasterKey != "" {
		svc, err := openSecrets(c, rt.metrics)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.secrets = svc
		rt.closers = append(rt.closers, svc.Store().Close)
	} else {
		logging.Get(logging.CategoryBoot).Warn("ACTCORE_SECRETS_KEY not set; secret references will not be decapsulated")
	}

	if rt.scheduler, err = scheduler.New(rt.store, scheduler.WithLocation(c.SchedulerLocation())); err != nil {
		rt.Close()
		return nil, err
	}
	rt.scheduler.Start()
	rt.closers = append(rt.closers, rt.scheduler.Shutdown)

	rt.tracker = tracing.NewTracker(rt.store)
	logging.Boot("Runtime ready (db=%s memory=%s audit=%s)", c.Database.Path, c.Database.MemoryPath, c.Audit.DatabasePath)
	return rt, nil
}

// Close releases everything in reverse order of opening.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func openAudit(c *config.Config) (*audit.Log, error) {
	var key []byte
	if c.Audit.SigningKey != "" {
		k, err := hex.DecodeString(c.Audit.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("audit signing key must be hex: %w", err)
		}
		key = k
	}
	return audit.Open(c.Audit.DatabasePath, key)
}

func openSecrets(c *config.Config, m *metrics.Metrics) (*secrets.Service, error) {
	if c.Secrets.MasterKey == "" {
		return nil, errors.New("ACTCORE_SECRETS_KEY is not set; generate one with 'actcore secrets keygen'")
	}
	enc, err := secrets.NewEncryptor(c.Secrets.MasterKey)
	if err != nil {
		return nil, err
	}
	st, err := secrets.NewStore(c.Secrets.DatabasePath, enc,
		secrets.WithMetrics(m),
		secrets.WithRateLimits(c.Secrets.MaxAccessesPerMinute, c.Secrets.MaxAccessesPerHour))
	if err != nil {
		return nil, err
	}
	return secrets.NewService(st, nil), nil
}
