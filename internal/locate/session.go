// Package locate drives a browser page through one map search per row and
// extracts the place's share link and coordinates.
package locate

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/maplink/internal/browser"
	"github.com/sells-group/maplink/internal/match"
	"github.com/sells-group/maplink/internal/model"
	"github.com/sells-group/maplink/internal/resilience"
	"github.com/sells-group/maplink/internal/sheet"
)

// ErrNotFound means the search produced no place details to share.
var ErrNotFound = eris.New("locate: place not found")

// DefaultSearchURL is the map surface every row starts from.
const DefaultSearchURL = "https://www.google.com/maps?hl=vi"

// DefaultBrandPrefix is prepended to every search query.
const DefaultBrandPrefix = "Bách Hóa Xanh"

// Timeouts bounds each step of a row.
type Timeouts struct {
	Navigate     time.Duration `mapstructure:"navigate"`
	Settle       time.Duration `mapstructure:"settle"`
	Submit       time.Duration `mapstructure:"submit"`
	Details      time.Duration `mapstructure:"details"`
	Reselect     time.Duration `mapstructure:"reselect"`
	Modal        time.Duration `mapstructure:"modal"`
	Dismiss      time.Duration `mapstructure:"dismiss"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultTimeouts returns the step bounds used against the live site.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigate:     30 * time.Second,
		Settle:       time.Second,
		Submit:       500 * time.Millisecond,
		Details:      3 * time.Second,
		Reselect:     2 * time.Second,
		Modal:        800 * time.Millisecond,
		Dismiss:      500 * time.Millisecond,
		PollInterval: browser.DefaultPollInterval,
	}
}

// Config configures a Session.
type Config struct {
	SearchURL   string
	BrandPrefix string
	Timeouts    Timeouts
	// Pacing is the minimum interval between searches; zero disables it.
	Pacing time.Duration
	Retry  resilience.RetryConfig
}

// Result is the outcome of locating one row.
type Result struct {
	Query       string
	Link        string
	Coordinates string
	Point       *geom.Point
	Status      model.RecordStatus
	Candidates  int
	Picked      int
	Score       int
}

// Session owns one page for the lifetime of a job. It is not safe for
// concurrent use.
type Session struct {
	page    browser.Page
	cat     browser.Catalog
	scorer  *match.Scorer
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewSession wraps page. Unset config fields take their defaults.
func NewSession(page browser.Page, cat browser.Catalog, scorer *match.Scorer, cfg Config) *Session {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.BrandPrefix == "" {
		cfg.BrandPrefix = DefaultBrandPrefix
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if scorer == nil {
		scorer = match.NewScorer(match.DefaultConfig())
	}

	limit := rate.Inf
	if cfg.Pacing > 0 {
		limit = rate.Every(cfg.Pacing)
	}
	return &Session{
		page:    page,
		cat:     cat,
		scorer:  scorer,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     zap.L().With(zap.String("component", "locate")),
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	pick := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return v
	}
	return Timeouts{
		Navigate:     pick(t.Navigate, def.Navigate),
		Settle:       pick(t.Settle, def.Settle),
		Submit:       pick(t.Submit, def.Submit),
		Details:      pick(t.Details, def.Details),
		Reselect:     pick(t.Reselect, def.Reselect),
		Modal:        pick(t.Modal, def.Modal),
		Dismiss:      pick(t.Dismiss, def.Dismiss),
		PollInterval: pick(t.PollInterval, def.PollInterval),
	}
}

// Close closes the underlying page.
func (s *Session) Close() error {
	return s.page.Close()
}

// BuildQuery joins the brand prefix and the row's search address.
func BuildQuery(brand string, row sheet.SourceRow) string {
	return strings.TrimSpace(brand + " " + row.SearchAddress())
}

// Locate runs the full search for one row. A row with no place details
// yields StatusNotFound and a nil error. Any other failure yields
// StatusFailed and the error.
func (s *Session) Locate(ctx context.Context, row sheet.SourceRow) (Result, error) {
	res := Result{
		Query:  BuildQuery(s.cfg.BrandPrefix, row),
		Link:   model.NotFoundLink,
		Status: model.StatusNotFound,
		Picked: -1,
	}
	log := s.log.With(zap.Int("row", row.Index), zap.String("query", res.Query))

	if err := s.limiter.Wait(ctx); err != nil {
		return failed(res, eris.Wrap(err, "locate: pacing"))
	}
	if err := s.search(ctx, res.Query); err != nil {
		return failed(res, err)
	}

	err := s.openDetails(ctx, row, &res)
	if errors.Is(err, ErrNotFound) {
		log.Debug("locate: no place details")
		return res, nil
	}
	if err != nil {
		return failed(res, err)
	}

	link, err := s.shareLink(ctx)
	if err != nil {
		return failed(res, err)
	}

	if err := s.page.Press(ctx, browser.KeyEscape); err != nil {
		log.Debug("locate: dismiss share dialog", zap.Error(err))
	}
	if err := sleep(ctx, s.cfg.Timeouts.Dismiss); err != nil {
		return failed(res, err)
	}

	u, err := s.page.URL(ctx)
	if err != nil {
		return failed(res, eris.Wrap(err, "locate: read location"))
	}
	if text, p, ok := ParseCoordinates(u); ok {
		res.Point = p
		res.Coordinates = text
	}

	if link != "" {
		res.Link = link
		res.Status = model.StatusFound
	}
	log.Debug("locate: resolved",
		zap.String("link", res.Link),
		zap.String("coordinates", res.Coordinates),
	)
	return res, nil
}

func failed(res Result, err error) (Result, error) {
	res.Status = model.StatusFailed
	res.Link = model.FailedLink
	res.Coordinates = ""
	res.Point = nil
	return res, err
}

// search loads the map surface and submits query.
func (s *Session) search(ctx context.Context, query string) error {
	t := s.cfg.Timeouts
	retry := s.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("locate.navigate")
	}
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		navCtx, cancel := context.WithTimeout(ctx, t.Navigate)
		defer cancel()
		return s.page.Navigate(navCtx, s.cfg.SearchURL)
	})
	if err != nil {
		return eris.Wrap(err, "locate: navigate")
	}
	if err := sleep(ctx, t.Settle); err != nil {
		return err
	}

	box, err := s.cat.SearchInput.Run(ctx, s.page)
	if err != nil {
		return eris.Wrap(err, "locate: search input")
	}
	if err := s.page.SetValue(ctx, box.Selector, query); err != nil {
		return eris.Wrap(err, "locate: fill search input")
	}
	if err := s.page.Press(ctx, browser.KeyEnter); err != nil {
		return eris.Wrap(err, "locate: submit search")
	}
	return sleep(ctx, t.Submit)
}

// openDetails waits for either the place details or a result list. For a
// list, the best scoring candidate is opened.
func (s *Session) openDetails(ctx context.Context, row sheet.SourceRow, res *Result) error {
	t := s.cfg.Timeouts
	share := s.cat.ShareButton.Selectors()

	sel, err := browser.WaitAny(ctx, s.page, t.Details, t.PollInterval, append(slices.Clone(share), s.cat.ResultLinks)...)
	if errors.Is(err, browser.ErrNoMatch) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "locate: wait for results")
	}
	if sel != s.cat.ResultLinks {
		return nil
	}

	texts, err := s.page.CandidateTexts(ctx, s.cat.ResultLinks)
	if err != nil {
		return eris.Wrap(err, "locate: read candidates")
	}
	if len(texts) == 0 {
		return ErrNotFound
	}
	keywords := s.scorer.Keywords(row.ShopName, row.District, row.SearchAddress())
	idx, score := s.scorer.Pick(texts, keywords)
	res.Candidates, res.Picked, res.Score = len(texts), idx, score
	s.log.Debug("locate: picked candidate",
		zap.Int("row", row.Index),
		zap.Int("candidates", len(texts)),
		zap.Int("index", idx),
		zap.Int("score", score),
	)

	if err := s.page.ClickNth(ctx, s.cat.ResultLinks, idx); err != nil {
		return eris.Wrap(err, "locate: open candidate")
	}
	if _, err := browser.WaitAny(ctx, s.page, t.Reselect, t.PollInterval, share...); err != nil {
		if errors.Is(err, browser.ErrNoMatch) {
			return ErrNotFound
		}
		return eris.Wrap(err, "locate: wait for details")
	}
	return nil
}

// shareLink opens the share dialog and reads the link. An unreadable link
// returns "" and a nil error.
func (s *Session) shareLink(ctx context.Context) (string, error) {
	if _, err := s.cat.ShareButton.Run(ctx, s.page); err != nil {
		return "", eris.Wrap(err, "locate: open share dialog")
	}
	if err := sleep(ctx, s.cfg.Timeouts.Modal); err != nil {
		return "", err
	}

	if _, err := s.cat.CopyLink.Run(ctx, s.page); err != nil {
		clicked, textErr := s.page.ClickButtonWithText(ctx, s.cat.CopyWords)
		if textErr != nil || !clicked {
			s.log.Debug("locate: no copy control", zap.Error(err))
		}
	}

	m, err := s.cat.LinkInput.Run(ctx, s.page)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.log.Debug("locate: share link unreadable", zap.Error(err))
		return "", nil
	}
	return m.Value, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
