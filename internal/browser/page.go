// Package browser wraps a headless browser tab behind a small Page
// interface and provides ordered selector fallback chains over it.
package browser

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Keys accepted by Page.Press.
const (
	KeyEnter  = "Enter"
	KeyEscape = "Escape"
)

// Page is the set of primitives the locate driver needs from a browser tab.
// Every method honors ctx cancellation and deadline.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until sel matches a visible element.
	WaitVisible(ctx context.Context, sel string) error
	// Exists reports whether sel matches any element right now.
	Exists(ctx context.Context, sel string) (bool, error)
	Click(ctx context.Context, sel string) error
	// SetValue assigns value to the first match of sel and dispatches
	// synthetic input and change events.
	SetValue(ctx context.Context, sel, value string) error
	// Press sends a key to the focused element.
	Press(ctx context.Context, key string) error
	// CandidateTexts returns, for every match of sel, the visible text of
	// its enclosing result card.
	CandidateTexts(ctx context.Context, sel string) ([]string, error)
	ClickNth(ctx context.Context, sel string, n int) error
	// ClickButtonWithText clicks the first button whose text or aria-label
	// contains any of words, case-insensitively.
	ClickButtonWithText(ctx context.Context, words []string) (bool, error)
	// Value returns the value property of the first match of sel, or "".
	Value(ctx context.Context, sel string) (string, error)
	URL(ctx context.Context) (string, error)
	Close() error
}

// ErrNoMatch is returned when no selector of a chain or wait succeeded.
var ErrNoMatch = eris.New("browser: no selector matched")

// DefaultPollInterval is how often WaitAny re-checks the page.
const DefaultPollInterval = 150 * time.Millisecond

// WaitAny polls the page until one of sels exists or timeout elapses. It
// returns the selector that matched first in list order.
func WaitAny(ctx context.Context, p Page, timeout, interval time.Duration, sels ...string) (string, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, sel := range sels {
			ok, err := p.Exists(ctx, sel)
			if err != nil && ctx.Err() == nil {
				return "", eris.Wrapf(err, "browser: probe %q", sel)
			}
			if ok {
				return sel, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ErrNoMatch
		case <-ticker.C:
		}
	}
}
