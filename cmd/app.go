package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/maplink/internal/browser"
	"github.com/sells-group/maplink/internal/events"
	"github.com/sells-group/maplink/internal/job"
	"github.com/sells-group/maplink/internal/match"
	"github.com/sells-group/maplink/internal/metrics"
	"github.com/sells-group/maplink/internal/store"
)

// initStore opens the job history store and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

// initController wires a job controller from configuration. st and m may be
// nil.
func initController(st store.Store, m *metrics.Metrics) (*job.Controller, error) {
	cat, err := browser.LoadCatalog(cfg.Browser.SelectorsFile)
	if err != nil {
		return nil, eris.Wrap(err, "load selector catalog")
	}
	scorer := match.NewScorer(cfg.Match.Config)

	return job.New(job.Config{
		OutputDir:              cfg.Output.Dir,
		Sheet:                  cfg.SheetOptions(),
		NewSession:             job.ChromeSessions(cfg.ChromeOptions(), cat, scorer, cfg.LocateConfig()),
		Store:                  st,
		Metrics:                m,
		Bus:                    events.NewBus(m.EventDropped),
		MaxConsecutiveFailures: cfg.Browser.MaxConsecutiveFailures,
	})
}
