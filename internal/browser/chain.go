package browser

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Strategy is how an Attempt probes its selector.
type Strategy string

const (
	// StrategyWait waits up to the attempt timeout for a visible match.
	StrategyWait Strategy = "wait"
	// StrategyExists checks for a match once, without waiting.
	StrategyExists Strategy = "exists"
	// StrategyClick clicks the match if it exists now.
	StrategyClick Strategy = "click"
	// StrategyWaitClick waits for a visible match, then clicks it.
	StrategyWaitClick Strategy = "waitclick"
	// StrategyValue reads the value of the match; empty counts as a miss.
	StrategyValue Strategy = "value"
)

// UnmarshalYAML validates the strategy name.
func (s *Strategy) UnmarshalYAML(n *yaml.Node) error {
	var raw string
	if err := n.Decode(&raw); err != nil {
		return err
	}
	switch st := Strategy(strings.ToLower(strings.TrimSpace(raw))); st {
	case StrategyWait, StrategyExists, StrategyClick, StrategyWaitClick, StrategyValue:
		*s = st
		return nil
	case "":
		*s = StrategyExists
		return nil
	default:
		return eris.Errorf("browser: unknown strategy %q", raw)
	}
}

// Attempt is one selector probe in a Chain.
type Attempt struct {
	Selector string        `yaml:"selector"`
	Strategy Strategy      `yaml:"strategy"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultAttemptTimeout bounds waiting strategies without an explicit timeout.
const DefaultAttemptTimeout = 2 * time.Second

// Match is the outcome of a successful Chain run.
type Match struct {
	Selector string
	Value    string
}

// Chain tries attempts in order, returning the first success.
type Chain []Attempt

// Run executes the chain against p. It returns ErrNoMatch wrapped with the
// last probe error when every attempt misses.
func (c Chain) Run(ctx context.Context, p Page) (Match, error) {
	var lastErr error
	for _, a := range c {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}
		m, err := a.run(ctx, p)
		if err == nil {
			return m, nil
		}
		zap.L().Debug("browser: attempt failed, trying next",
			zap.String("selector", a.Selector),
			zap.String("strategy", string(a.Strategy)),
			zap.Error(err),
		)
		lastErr = err
	}
	if lastErr != nil {
		return Match{}, eris.Wrap(ErrNoMatch, lastErr.Error())
	}
	return Match{}, ErrNoMatch
}

// Selectors lists the selectors of the chain in order.
func (c Chain) Selectors() []string {
	out := make([]string, 0, len(c))
	for _, a := range c {
		out = append(out, a.Selector)
	}
	return out
}

func (a Attempt) run(ctx context.Context, p Page) (Match, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch a.Strategy {
	case StrategyWait:
		if err := p.WaitVisible(ctx, a.Selector); err != nil {
			return Match{}, err
		}
		return Match{Selector: a.Selector}, nil

	case StrategyWaitClick:
		if err := p.WaitVisible(ctx, a.Selector); err != nil {
			return Match{}, err
		}
		if err := p.Click(ctx, a.Selector); err != nil {
			return Match{}, err
		}
		return Match{Selector: a.Selector}, nil

	case StrategyClick:
		if err := a.exists(ctx, p); err != nil {
			return Match{}, err
		}
		if err := p.Click(ctx, a.Selector); err != nil {
			return Match{}, err
		}
		return Match{Selector: a.Selector}, nil

	case StrategyValue:
		v, err := p.Value(ctx, a.Selector)
		if err != nil {
			return Match{}, err
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return Match{}, eris.Errorf("browser: empty value at %q", a.Selector)
		}
		return Match{Selector: a.Selector, Value: v}, nil

	default:
		if err := a.exists(ctx, p); err != nil {
			return Match{}, err
		}
		return Match{Selector: a.Selector}, nil
	}
}

func (a Attempt) exists(ctx context.Context, p Page) error {
	ok, err := p.Exists(ctx, a.Selector)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Errorf("browser: %q not present", a.Selector)
	}
	return nil
}
