package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scenecore/internal/agent"
	"scenecore/internal/capture"
	"scenecore/internal/concierge"
	"scenecore/internal/config"
	"scenecore/internal/directive"
	"scenecore/internal/logging"
	"scenecore/internal/scene"
	"scenecore/internal/session"
	"scenecore/internal/store"
)

// runtime is the wired core behind chat and replay.
type runtime struct {
	ctrl      *concierge.Controller
	scene     *scene.Orchestrator
	cache     *session.Cache
	decoder   *directive.Decoder
	extractor *capture.Extractor
	sim       *agent.Simulator
	db        *store.Store
	stop      context.CancelFunc
}

func buildRuntime(ctx context.Context, c *config.Config, notifier concierge.Notifier) (*runtime, error) {
	log := logging.Get(logging.CategoryBoot)
	ctx, stop := context.WithCancel(ctx)
	rt := &runtime{stop: stop}

	src, err := buildSource(c, rt)
	if err != nil {
		stop()
		return nil, err
	}

	extractor, err := buildExtractor(ctx, c)
	if err != nil {
		stop()
		return nil, err
	}
	rt.extractor = extractor

	rt.scene = scene.New(scene.GradientGenerator{}, scene.Options{
		Baseline:         c.Scene.BaselineSetting,
		DefaultGradient:  c.Scene.DefaultGradient,
		FallbackGradient: c.Scene.FallbackGradient,
	}, nil)

	cacheOpts := session.Options{
		FallbackGradient: c.Scene.FallbackGradient,
		FlushConcurrency: c.Session.FlushConcurrency,
	}
	if c.Session.Persist {
		db, err := store.Open(c.Session.DatabasePath)
		if err != nil {
			stop()
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		rt.db = db
		cacheOpts.Store = session.NewSQLiteStore(db)
	}
	rt.cache = session.NewCache(cacheOpts)
	rt.decoder = directive.NewDecoder()

	rt.ctrl = concierge.New(concierge.Options{
		Source:    src,
		Scene:     rt.scene,
		Decoder:   rt.decoder,
		Extractor: rt.extractor,
		Cache:     rt.cache,
		Notifier:  notifier,
	})
	log.Info("runtime ready: agent=%s persist=%v", c.Agent.Mode, c.Session.Persist)
	return rt, nil
}

func buildSource(c *config.Config, rt *runtime) (agent.Source, error) {
	switch strings.ToLower(c.Agent.Mode) {
	case "", "simulated":
	default:
		return nil, fmt.Errorf("agent mode %q is not available in this build (use simulated)", c.Agent.Mode)
	}

	catalog := agent.DefaultCatalog()
	if c.Agent.CatalogPath != "" {
		loaded, err := agent.LoadCatalog(c.Agent.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	rt.sim = agent.NewSimulator(catalog)
	return agent.WithTimeout(rt.sim, c.GetAgentTimeout()), nil
}

// buildExtractor loads the capture policy and, when it comes from a file,
// reloads it on every change.
func buildExtractor(ctx context.Context, c *config.Config) (*capture.Extractor, error) {
	log := logging.Get(logging.CategoryBoot)

	policy := capture.DefaultPolicy()
	if c.Capture.MinBodyLength > 0 {
		policy.MinBodyLength = c.Capture.MinBodyLength
	}
	path := c.Capture.PolicyPath
	if path == "" {
		return capture.NewExtractor(policy), nil
	}

	loaded, err := capture.LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	ex := capture.NewExtractor(loaded)
	err = config.Watch(ctx, path, func(p string) {
		reloaded, err := capture.LoadPolicy(p)
		if err != nil {
			log.Warn("capture policy reload failed, keeping previous: %v", err)
			return
		}
		ex.SetPolicy(reloaded)
		log.Info("capture policy reloaded from %s", p)
	})
	if err != nil {
		log.Warn("capture policy will not hot reload: %v", err)
	}
	return ex, nil
}

// Close snapshots the live conversation, waits for background generation
// and flushes the cache to the durable store.
func (rt *runtime) Close(ctx context.Context) error {
	defer rt.stop()

	var errs []error
	if err := rt.ctrl.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	rt.scene.Wait()
	if err := rt.cache.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
