package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ChromeOptions configures the Chrome process.
type ChromeOptions struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// BlockResources fails image, font, stylesheet and media requests.
	BlockResources bool
}

// blockedResources are not needed to read a place's share link.
var blockedResources = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeFont,
	network.ResourceTypeStylesheet,
	network.ResourceTypeMedia,
}

func blockPatterns() []*fetch.RequestPattern {
	patterns := make([]*fetch.RequestPattern, 0, len(blockedResources))
	for _, rt := range blockedResources {
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: rt,
			RequestStage: fetch.RequestStageRequest,
		})
	}
	return patterns
}

// ChromePage drives a single Chrome tab through the DevTools protocol.
type ChromePage struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

var _ Page = (*ChromePage)(nil)

// NewChromePage launches Chrome and opens one tab. The browser lives until
// Close is called; parent only scopes the launch.
func NewChromePage(parent context.Context, opts ChromeOptions) (*ChromePage, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "vi-VN"),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(parent), allocOpts...)
	log := zap.L().With(zap.String("component", "chrome"))
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...)) }),
	)

	p := &ChromePage{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}
	// An empty Run starts the browser.
	if err := p.run(parent); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "browser: launch chrome")
	}
	if opts.BlockResources {
		if err := p.blockResources(parent); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// blockResources pauses requests matching blockPatterns and fails them.
func (p *ChromePage) blockResources(ctx context.Context) error {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(p.ctx)
			if c == nil || c.Target == nil {
				return
			}
			execCtx := cdp.WithExecutor(p.ctx, c.Target)
			if err := fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
				zap.L().Debug("browser: fail request", zap.String("url", e.Request.URL), zap.Error(err))
			}
		}()
	})
	if err := p.run(ctx, fetch.Enable().WithPatterns(blockPatterns())); err != nil {
		return eris.Wrap(err, "browser: enable request blocking")
	}
	return nil
}

// run executes actions on the tab, bounded by ctx's deadline and
// cancellation. Cancelling ctx never closes the tab itself.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *ChromePage) eval(ctx context.Context, expr string, res any) error {
	return p.run(ctx, chromedp.Evaluate(expr, res))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	return nil
}

func (p *ChromePage) WaitVisible(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (p *ChromePage) Exists(ctx context.Context, sel string) (bool, error) {
	var ok bool
	err := p.eval(ctx, fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(sel)), &ok)
	return ok, err
}

func (p *ChromePage) Click(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

const setValueJS = `(function(sel, v) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.focus();
	el.value = v;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})(%s, %s)`

func (p *ChromePage) SetValue(ctx context.Context, sel, value string) error {
	var ok bool
	if err := p.eval(ctx, fmt.Sprintf(setValueJS, jsString(sel), jsString(value)), &ok); err != nil {
		return err
	}
	if !ok {
		return eris.Errorf("browser: set value: %q not present", sel)
	}
	return nil
}

func (p *ChromePage) Press(ctx context.Context, key string) error {
	var k string
	switch key {
	case KeyEnter:
		k = kb.Enter
	case KeyEscape:
		k = kb.Escape
	default:
		k = key
	}
	return p.run(ctx, chromedp.KeyEvent(k))
}

const candidateTextsJS = `Array.from(document.querySelectorAll(%s)).map(function(el) {
	const card = el.closest('[jsaction]') || (el.parentElement && el.parentElement.parentElement) || el;
	return card.innerText || el.getAttribute('aria-label') || '';
})`

func (p *ChromePage) CandidateTexts(ctx context.Context, sel string) ([]string, error) {
	var texts []string
	if err := p.eval(ctx, fmt.Sprintf(candidateTextsJS, jsString(sel)), &texts); err != nil {
		return nil, err
	}
	return texts, nil
}

func (p *ChromePage) ClickNth(ctx context.Context, sel string, n int) error {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return err
	}
	if n < 0 || n >= len(nodes) {
		return eris.Errorf("browser: %q has %d matches, want index %d", sel, len(nodes), n)
	}
	return p.run(ctx, chromedp.MouseClickNode(nodes[n]))
}

const clickButtonJS = `(function(words) {
	const buttons = document.querySelectorAll('button');
	for (const b of buttons) {
		const t = ((b.innerText || '') + ' ' + (b.getAttribute('aria-label') || '')).toLowerCase();
		if (words.some(function(w) { return t.includes(w); })) {
			b.click();
			return true;
		}
	}
	return false;
})(%s)`

func (p *ChromePage) ClickButtonWithText(ctx context.Context, words []string) (bool, error) {
	lower := make([]string, 0, len(words))
	for _, w := range words {
		lower = append(lower, strings.ToLower(w))
	}
	arg, err := json.Marshal(lower)
	if err != nil {
		return false, eris.Wrap(err, "browser: encode button words")
	}
	var clicked bool
	if err := p.eval(ctx, fmt.Sprintf(clickButtonJS, arg), &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

func (p *ChromePage) Value(ctx context.Context, sel string) (string, error) {
	var v string
	expr := fmt.Sprintf(`(function(el) { return el ? (el.value || '') : ''; })(document.querySelector(%s))`, jsString(sel))
	if err := p.eval(ctx, expr, &v); err != nil {
		return "", err
	}
	return v, nil
}

func (p *ChromePage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Close shuts the tab and the browser process.
func (p *ChromePage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}
