package job

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/maplink/internal/browser"
	"github.com/sells-group/maplink/internal/locate"
	"github.com/sells-group/maplink/internal/match"
	"github.com/sells-group/maplink/internal/model"
)

// ChromeSessions returns a SessionFactory that launches Chrome for each job.
// The job's Headless option overrides chrome.Headless.
func ChromeSessions(chrome browser.ChromeOptions, cat browser.Catalog, scorer *match.Scorer, cfg locate.Config) SessionFactory {
	return func(ctx context.Context, opts model.JobOptions) (Locator, error) {
		o := chrome
		o.Headless = opts.Headless
		page, err := browser.NewChromePage(ctx, o)
		if err != nil {
			return nil, eris.Wrap(err, "job: open browser")
		}
		return locate.NewSession(page, cat, scorer, cfg), nil
	}
}
