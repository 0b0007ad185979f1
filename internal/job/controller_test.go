package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/maplink/internal/browser"
	"github.com/sells-group/maplink/internal/browser/browsertest"
	"github.com/sells-group/maplink/internal/events"
	"github.com/sells-group/maplink/internal/export"
	"github.com/sells-group/maplink/internal/ledger"
	"github.com/sells-group/maplink/internal/locate"
	"github.com/sells-group/maplink/internal/match"
	"github.com/sells-group/maplink/internal/model"
	"github.com/sells-group/maplink/internal/resilience"
	"github.com/sells-group/maplink/internal/sheet"
	"github.com/sells-group/maplink/internal/sheet/sheettest"
	"github.com/sells-group/maplink/internal/store"
)

// fakeLocator answers every row with fn, or a found result when fn is nil.
type fakeLocator struct {
	mu     sync.Mutex
	rows   []int
	closed bool
	fn     func(ctx context.Context, row sheet.SourceRow) (locate.Result, error)
}

func (f *fakeLocator) Locate(ctx context.Context, row sheet.SourceRow) (locate.Result, error) {
	f.mu.Lock()
	f.rows = append(f.rows, row.Index)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, row)
	}
	return locate.Result{
		Link:        "https://maps.app.goo.gl/row" + row.ID,
		Coordinates: "10.1, 106.1",
		Status:      model.StatusFound,
	}, nil
}

func (f *fakeLocator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLocator) Rows() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.rows...)
}

func newController(t *testing.T, loc Locator, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		OutputDir: t.TempDir(),
		NewSession: func(context.Context, model.JobOptions) (Locator, error) {
			return loc, nil
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() }) //nolint:errcheck
	return c
}

func hcmRow(id string) sheettest.Row {
	return sheettest.Row{
		ID:              id,
		Project:         "2026_bidding",
		Province:        "Hồ Chí Minh",
		District:        "Quận 1",
		WarehouseCode:   "K-" + id,
		ShopName:        "BHX " + id,
		SpecificAddress: id + " Nguyễn Trãi",
	}
}

func wait(t *testing.T, c *Controller, id string) model.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	j, err := c.Wait(ctx, id)
	require.NoError(t, err)
	return j
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(evs []events.Event, k events.Kind) []events.Event {
	var out []events.Event
	for _, e := range evs {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func TestNew_RequiresSessionFactory(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStart_ProcessesInScopeRows(t *testing.T) {
	loc := &fakeLocator{}
	c := newController(t, loc)
	ch, cancel := c.Bus().Subscribe(0)
	defer cancel()

	other := hcmRow("2")
	other.Province = "Hà Nội"
	doc := sheettest.Workbook(t, hcmRow("1"), other, hcmRow("3"))

	id, err := c.Start(context.Background(), doc, "stores.xlsx", model.JobOptions{Province: "hồ chí minh"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	j := wait(t, c, id)
	assert.Equal(t, model.JobStateCompleted, j.State)
	assert.Equal(t, id, j.Key)
	assert.Equal(t, 2, j.Processed)
	assert.Equal(t, 2, j.TotalInScope)
	assert.Equal(t, []int{3, 5}, loc.Rows())
	assert.True(t, loc.closed)

	assert.Equal(t, filepath.Join(c.OutputDir(), export.FileName(id)), j.OutputPath)
	assert.FileExists(t, j.OutputPath)

	recs, err := ledger.Read(j.LedgerPath)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "K-1", recs[0].WarehouseCode)
	assert.Equal(t, "1 Nguyễn Trãi", recs[0].Address)
	assert.Equal(t, model.StatusFound, recs[1].Status)

	evs := drain(ch)
	progress := kinds(evs, events.KindProgress)
	require.Len(t, progress, 2)
	p := progress[1].Data.(events.Progress)
	assert.Equal(t, 100, p.Percent)
	assert.Equal(t, 2, p.Current)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 5, p.Row)

	complete := kinds(evs, events.KindComplete)
	require.Len(t, complete, 1)
	done := complete[0].Data.(events.Complete)
	assert.Equal(t, 2, done.Processed)
	assert.Equal(t, export.FileName(id), done.OutputPath)
	assert.False(t, done.Stopped)
	assert.Empty(t, kinds(evs, events.KindError))

	status, ok := c.Status()
	require.True(t, ok)
	assert.Equal(t, id, status.ID)
}

func TestStart_ResumesFromLedger(t *testing.T) {
	loc := &fakeLocator{}
	c := newController(t, loc)

	rows := map[int]sheettest.Row{}
	for idx := 3; idx <= 10; idx++ {
		rows[idx] = hcmRow(string(rune('a' + idx)))
	}
	doc := sheettest.At(t, rows)

	const key = "previous-run"
	led, err := ledger.Open(ledger.PathFor(c.OutputDir(), key))
	require.NoError(t, err)
	for _, idx := range []int{3, 5, 9} {
		require.NoError(t, led.Append(model.EnrichmentRecord{RowIndex: idx, MapLink: "https://maps.app.goo.gl/old"}))
	}
	require.NoError(t, led.Close())

	id, err := c.Start(context.Background(), doc, "stores.xlsx", model.JobOptions{ResumeKey: key})
	require.NoError(t, err)
	j := wait(t, c, id)

	assert.Equal(t, model.JobStateCompleted, j.State)
	assert.Equal(t, key, j.Key)
	assert.Equal(t, 3, j.Skipped)
	assert.Equal(t, 5, j.Processed)
	assert.Equal(t, []int{4, 6, 7, 8, 10}, loc.Rows())

	skip, err := ledger.LoadSkipSet(j.LedgerPath)
	require.NoError(t, err)
	assert.Len(t, skip, 8)
	for idx := 3; idx <= 10; idx++ {
		assert.Contains(t, skip, idx)
	}
	assert.FileExists(t, filepath.Join(c.OutputDir(), export.FileName(key)))
}

func TestStart_AllRowsAlreadyRecorded(t *testing.T) {
	opened := false
	c := newController(t, nil, func(cfg *Config) {
		cfg.NewSession = func(context.Context, model.JobOptions) (Locator, error) {
			opened = true
			return &fakeLocator{}, nil
		}
	})
	doc := sheettest.Workbook(t, hcmRow("1"))

	led, err := ledger.Open(ledger.PathFor(c.OutputDir(), "done"))
	require.NoError(t, err)
	require.NoError(t, led.Append(model.EnrichmentRecord{RowIndex: 3, MapLink: model.NotFoundLink}))
	require.NoError(t, led.Close())

	id, err := c.Start(context.Background(), doc, "x.xlsx", model.JobOptions{ResumeKey: "done"})
	require.NoError(t, err)
	j := wait(t, c, id)
	assert.Equal(t, model.JobStateCompleted, j.State)
	assert.Zero(t, j.Processed)
	assert.False(t, opened, "no browser is needed when nothing is pending")
}

func TestStop_FinishesInFlightRow(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	loc := &fakeLocator{}
	loc.fn = func(_ context.Context, row sheet.SourceRow) (locate.Result, error) {
		if row.Index == 3 {
			close(entered)
			<-release
		}
		return locate.Result{Link: "https://maps.app.goo.gl/x", Status: model.StatusFound}, nil
	}
	c := newController(t, loc)
	ch, cancel := c.Bus().Subscribe(0)
	defer cancel()

	id, err := c.Start(context.Background(), sheettest.Workbook(t, hcmRow("1"), hcmRow("2"), hcmRow("3")), "x.xlsx", model.JobOptions{})
	require.NoError(t, err)

	<-entered
	require.NoError(t, c.Stop(""))
	status, _ := c.Status()
	assert.Equal(t, model.JobStateStopping, status.State)
	close(release)

	j := wait(t, c, id)
	assert.Equal(t, model.JobStateStopped, j.State)
	assert.Equal(t, 1, j.Processed)
	assert.Equal(t, []int{3}, loc.Rows())

	recs, err := ledger.Read(j.LedgerPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 3, recs[0].RowIndex)

	complete := kinds(drain(ch), events.KindComplete)
	require.Len(t, complete, 1)
	assert.True(t, complete[0].Data.(events.Complete).Stopped)
}

func TestStop_OnLastRowEndsStopped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	loc := &fakeLocator{}
	loc.fn = func(context.Context, sheet.SourceRow) (locate.Result, error) {
		close(entered)
		<-release
		return locate.Result{Link: model.NotFoundLink, Status: model.StatusNotFound}, nil
	}
	c := newController(t, loc)
	ch, cancel := c.Bus().Subscribe(0)
	defer cancel()

	id, err := c.Start(context.Background(), sheettest.Workbook(t, hcmRow("1")), "x.xlsx", model.JobOptions{})
	require.NoError(t, err)

	<-entered
	require.NoError(t, c.Stop(""))
	close(release)

	j := wait(t, c, id)
	assert.Equal(t, model.JobStateStopped, j.State)
	assert.True(t, model.JobStateStopping.CanTransition(j.State))
	assert.Equal(t, 1, j.Processed)
	assert.NotEmpty(t, j.OutputPath)

	complete := kinds(drain(ch), events.KindComplete)
	require.Len(t, complete, 1)
	assert.True(t, complete[0].Data.(events.Complete).Stopped)
}

func TestClose_StopsActiveJob(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	loc := &fakeLocator{}
	var once sync.Once
	loc.fn = func(context.Context, sheet.SourceRow) (locate.Result, error) {
		once.Do(func() { close(entered) })
		<-release
		return locate.Result{Link: model.NotFoundLink, Status: model.StatusNotFound}, nil
	}
	c := newController(t, loc)

	id, err := c.Start(context.Background(), sheettest.Workbook(t, hcmRow("1"), hcmRow("2")), "x.xlsx", model.JobOptions{})
	require.NoError(t, err)
	<-entered

	closed := make(chan struct{})
	go func() {
		c.Close() //nolint:errcheck
		close(closed)
	}()
	require.Eventually(t, func() bool {
		j, _ := c.Status()
		return j.State == model.JobStateStopping
	}, 5*time.Second, 10*time.Millisecond)
	close(release)
	<-closed

	j := wait(t, c, id)
	assert.Equal(t, model.JobStateStopped, j.State)
	assert.Equal(t, 1, j.Processed)
}

func TestStart_RejectsSecondJob(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	loc := &fakeLocator{}
	var once sync.Once
	loc.fn = func(context.Context, sheet.SourceRow) (locate.Result, error) {
		once.Do(func() { close(entered) })
		<-release
		return locate.Result{Link: model.NotFoundLink, Status: model.StatusNotFound}, nil
	}
	c := newController(t, loc)
	doc := sheettest.Workbook(t, hcmRow("1"))

	id, err := c.Start(context.Background(), doc, "x.xlsx", model.JobOptions{})
	require.NoError(t, err)
	<-entered

	_, err = c.Start(context.Background(), doc, "x.xlsx", model.JobOptions{})
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.ErrorIs(t, c.Stop("some-other-id"), ErrNoJob)

	close(release)
	wait(t, c, id)

	assert.ErrorIs(t, c.Stop(id), ErrNoJob)
	id2, err := c.Start(context.Background(), doc, "x.xlsx", model.JobOptions{ResumeKey: "fresh"})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestStart_InvalidResumeKey(t *testing.T) {
	c := newController(t, &fakeLocator{})
	for _, key := range []string{"../escape", "a/b", `a\b`, ".."} {
		_, err := c.Start(context.Background(), nil, "x.xlsx", model.JobOptions{ResumeKey: key})
		assert.Error(t, err, key)
	}
	_, ok := c.Status()
	assert.False(t, ok)
}

func TestStart_UnreadableDocumentFails(t *testing.T) {
	loc := &fakeLocator{}
	c := newController(t, loc)
	ch, cancel := c.Bus().Subscribe(0)
	defer cancel()

	id, err := c.Start(context.Background(), []byte("not a workbook"), "bad.xlsx", model.JobOptions{})
	require.NoError(t, err)
	j := wait(t, c, id)

	assert.Equal(t, model.JobStateFailed, j.State)
	assert.NotEmpty(t, j.Error)
	assert.Empty(t, loc.Rows())
	assert.Empty(t, j.OutputPath)

	evs := drain(ch)
	errs := kinds(evs, events.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, "cannot read input document", errs[0].Data)
	assert.NotEmpty(t, kinds(evs, events.KindLog))
	assert.Empty(t, kinds(evs, events.KindComplete))
}

func TestStart_SessionFailureKeepsLedger(t *testing.T) {
	c := newController(t, nil, func(cfg *Config) {
		cfg.NewSession = func(context.Context, model.JobOptions) (Locator, error) {
			return nil, errors.New("chrome not installed")
		}
	})
	id, err := c.Start(context.Background(), sheettest.Workbook(t, hcmRow("1")), "x.xlsx", model.JobOptions{})
	require.NoError(t, err)
	j := wait(t, c, id)

	assert.Equal(t, model.JobStateFailed, j.State)
	assert.Contains(t, j.Error, "chrome not installed")
	assert.FileExists(t, j.LedgerPath)
	assert.Zero(t, j.Processed)
}

func TestRowFailuresAreRecorded(t *testing.T) {
	loc := &fakeLocator{}
	loc.fn = func(_ context.Context, row sheet.SourceRow) (locate.Result, error) {
		if row.Index == 4 {
			return locate.Result{Link: model.FailedLink, Status: model.StatusFailed}, errors.New("selector timeout")
		}
		return locate.Result{Link: "https://maps.app.goo.gl/ok", Status: model.StatusFound}, nil
	}
	c := newController(t, loc)

	id, err := c.Start(context.Background(), sheettest.Workbook(t, hcmRow("1"), hcmRow("2"), hcmRow("3")), "x.xlsx", model.JobOptions{})
	require.NoError(t, err)
	j := wait(t, c, id)

	assert.Equal(t, model.JobStateCompleted, j.State)
	assert.Equal(t, 3, j.Processed)
	recs, err := ledger.Read(j.LedgerPath)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, model.StatusFailed, recs[1].Status)
	assert.Equal(t, model.FailedLink, recs[1].MapLink)
}

func TestConsecutiveFailuresAbort(t *testing.T) {
	loc := &fakeLocator{}
	loc.fn = func(context.Context, sheet.SourceRow) (locate.Result, error) {
		return locate.Result{Link: model.FailedLink, Status: model.StatusFailed}, errors.New("page crashed")
	}
	c := newController(t, loc, func(cfg *Config) { cfg.MaxConsecutiveFailures = 2 })

	doc := sheettest.Workbook(t, hcmRow("1"), hcmRow("2"), hcmRow("3"), hcmRow("4"))
	id, err := c.Start(context.Background(), doc, "x.xlsx", model.JobOptions{})
	require.NoError(t, err)
	j := wait(t, c, id)

	assert.Equal(t, model.JobStateFailed, j.State)
	assert.Equal(t, 2, j.Processed)
	assert.Contains(t, j.Error, "consecutive")
	assert.NotEmpty(t, j.OutputPath)
}

func TestJobHistoryIsPersisted(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	c := newController(t, &fakeLocator{}, func(cfg *Config) { cfg.Store = st })
	id, err := c.Start(context.Background(), sheettest.Workbook(t, hcmRow("1")), "stores.xlsx", model.JobOptions{Province: "Hồ"})
	require.NoError(t, err)
	wait(t, c, id)

	got, err := st.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, got.State)
	assert.Equal(t, 1, got.Processed)
	assert.Equal(t, "stores.xlsx", got.InputName)
	assert.Equal(t, "Hồ", got.Options.Province)
}

func TestClose_RejectsNewJobs(t *testing.T) {
	c := newController(t, &fakeLocator{})
	require.NoError(t, c.Close())
	_, err := c.Start(context.Background(), nil, "x.xlsx", model.JobOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWait_UnknownJob(t *testing.T) {
	c := newController(t, &fakeLocator{})
	_, err := c.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestEndToEnd_WithBrowserSession(t *testing.T) {
	const (
		searchSel = "#searchboxinput"
		shareSel  = `button[data-value="Share"]`
		copySel   = `button[data-tooltip="Sao chép đường liên kết"]`
		linkSel   = "input.vrsrZe"
		placeURL  = "https://www.google.com/maps/place/BHX/@10.1,106.4,17z/data=!3m1!4b1!4m6!3m5!8m2!3d10.123!4d106.456"
		shareLink = "https://maps.app.goo.gl/e2e"
	)
	page := browsertest.New()
	page.OnNavigate = func(p *browsertest.Page, _ string) {
		p.Hide(shareSel, copySel)
		p.Show(searchSel)
	}
	page.OnPress = func(p *browsertest.Page, key string) {
		if key == browser.KeyEnter {
			p.Show(shareSel)
			p.SetURL(placeURL)
		}
	}
	page.OnClick = func(p *browsertest.Page, sel string) {
		switch {
		case sel == shareSel:
			p.Show(copySel)
		case sel == copySel, strings.HasPrefix(sel, "button:"):
			p.SetInputValue(linkSel, shareLink)
		}
	}

	lcfg := locate.Config{
		Timeouts: locate.Timeouts{
			Navigate:     time.Second,
			Settle:       time.Millisecond,
			Submit:       time.Millisecond,
			Details:      50 * time.Millisecond,
			Reselect:     50 * time.Millisecond,
			Modal:        time.Millisecond,
			Dismiss:      time.Millisecond,
			PollInterval: 2 * time.Millisecond,
		},
		Retry: resilience.RetryConfig{MaxAttempts: 1},
	}
	c := newController(t, nil, func(cfg *Config) {
		cfg.NewSession = func(context.Context, model.JobOptions) (Locator, error) {
			return locate.NewSession(page, browser.DefaultCatalog(), match.NewScorer(match.DefaultConfig()), lcfg), nil
		}
	})

	row := sheettest.Row{
		ID:              "1",
		Project:         "2026_bidding",
		Province:        "Hồ Chí Minh",
		District:        "Quận 1",
		WarehouseCode:   "K-0001",
		ShopName:        "BHX 123 Main",
		SpecificAddress: "123 Main St",
	}
	doc := sheettest.At(t, map[int]sheettest.Row{5: row})

	id, err := c.Start(context.Background(), doc, "stores.xlsx", model.JobOptions{
		Project:  "2026_bidding",
		Province: "Hồ Chí Minh",
	})
	require.NoError(t, err)
	j := wait(t, c, id)
	require.Equal(t, model.JobStateCompleted, j.State, j.Error)

	assert.Contains(t, page.Calls(), "SetValue "+searchSel+"=Bách Hóa Xanh 123 Main St")

	recs, err := ledger.Read(j.LedgerPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 5, recs[0].RowIndex)
	assert.Equal(t, model.StatusFound, recs[0].Status)
	assert.Equal(t, shareLink, recs[0].MapLink)
	assert.Equal(t, "10.123, 106.456", recs[0].Coordinates)

	info, err := os.Stat(j.OutputPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
