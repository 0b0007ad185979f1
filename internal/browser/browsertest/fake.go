// Package browsertest provides a scripted in-memory browser.Page.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/maplink/internal/browser"
)

// Page is a fake browser.Page whose DOM is a set of present selectors.
// Hooks mutate the fake in response to actions so tests can script a page
// flow. WaitVisible never blocks: an absent selector fails immediately.
type Page struct {
	mu sync.Mutex

	present map[string]bool
	values  map[string]string
	texts   map[string][]string
	buttons []string
	url     string
	errs    map[string]error
	calls   []string
	closed  bool

	OnNavigate func(p *Page, url string)
	OnSetValue func(p *Page, sel, value string)
	OnPress    func(p *Page, key string)
	OnClick    func(p *Page, sel string)
	OnClickNth func(p *Page, sel string, n int)
}

var _ browser.Page = (*Page)(nil)

// New returns an empty fake page.
func New() *Page {
	return &Page{
		present: map[string]bool{},
		values:  map[string]string{},
		texts:   map[string][]string{},
		errs:    map[string]error{},
	}
}

// Show marks selectors as present and visible.
func (p *Page) Show(sels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		p.present[s] = true
	}
}

// Hide removes selectors.
func (p *Page) Hide(sels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		delete(p.present, s)
	}
}

// SetInputValue sets the value Value returns for sel and marks it present.
func (p *Page) SetInputValue(sel, v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present[sel] = true
	p.values[sel] = v
}

// SetResults sets the candidate texts for a result selector.
func (p *Page) SetResults(sel string, texts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present[sel] = len(texts) > 0
	p.texts[sel] = texts
}

// SetButtons sets the button labels ClickButtonWithText scans.
func (p *Page) SetButtons(labels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buttons = labels
}

// SetURL sets the current location.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// FailOn makes the named method (e.g. "Navigate") return err.
func (p *Page) FailOn(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, method)
		return
	}
	p.errs[method] = err
}

// Calls returns the recorded action log.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) record(method, detail string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, strings.TrimSpace(method+" "+detail))
	return p.errs[method]
}

func (p *Page) has(sel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[sel]
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.record("Navigate", url); err != nil {
		return err
	}
	p.SetURL(url)
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	}
	return nil
}

func (p *Page) WaitVisible(ctx context.Context, sel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.has(sel) {
		return eris.Wrapf(context.DeadlineExceeded, "fake: %q not visible", sel)
	}
	return nil
}

func (p *Page) Exists(ctx context.Context, sel string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.has(sel), nil
}

func (p *Page) Click(ctx context.Context, sel string) error {
	if err := p.record("Click", sel); err != nil {
		return err
	}
	if !p.has(sel) {
		return eris.Errorf("fake: click %q: not present", sel)
	}
	if p.OnClick != nil {
		p.OnClick(p, sel)
	}
	return nil
}

func (p *Page) SetValue(ctx context.Context, sel, value string) error {
	if err := p.record("SetValue", sel+"="+value); err != nil {
		return err
	}
	if !p.has(sel) {
		return eris.Errorf("fake: set value %q: not present", sel)
	}
	p.mu.Lock()
	p.values[sel] = value
	p.mu.Unlock()
	if p.OnSetValue != nil {
		p.OnSetValue(p, sel, value)
	}
	return nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	if err := p.record("Press", key); err != nil {
		return err
	}
	if p.OnPress != nil {
		p.OnPress(p, key)
	}
	return nil
}

func (p *Page) CandidateTexts(ctx context.Context, sel string) ([]string, error) {
	if err := p.record("CandidateTexts", sel); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts[sel]...), nil
}

func (p *Page) ClickNth(ctx context.Context, sel string, n int) error {
	if err := p.record("ClickNth", fmt.Sprintf("%s %d", sel, n)); err != nil {
		return err
	}
	p.mu.Lock()
	count := len(p.texts[sel])
	p.mu.Unlock()
	if n < 0 || n >= count {
		return eris.Errorf("fake: %q has %d matches, want index %d", sel, count, n)
	}
	if p.OnClickNth != nil {
		p.OnClickNth(p, sel, n)
	}
	return nil
}

func (p *Page) ClickButtonWithText(ctx context.Context, words []string) (bool, error) {
	if err := p.record("ClickButtonWithText", strings.Join(words, "|")); err != nil {
		return false, err
	}
	p.mu.Lock()
	labels := append([]string(nil), p.buttons...)
	p.mu.Unlock()
	for _, l := range labels {
		for _, w := range words {
			if strings.Contains(strings.ToLower(l), strings.ToLower(w)) {
				if p.OnClick != nil {
					p.OnClick(p, "button:"+l)
				}
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *Page) Value(ctx context.Context, sel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs["Value"]; err != nil {
		return "", err
	}
	return p.values[sel], nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs["URL"]; err != nil {
		return "", err
	}
	return p.url, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
