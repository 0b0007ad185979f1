package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/maplink/internal/browser"
	"github.com/sells-group/maplink/internal/browser/browsertest"
)

func TestChain_FirstSuccessWins(t *testing.T) {
	p := browsertest.New()
	p.Show("#b", "#c")

	chain := browser.Chain{
		{Selector: "#a", Strategy: browser.StrategyWait, Timeout: 10 * time.Millisecond},
		{Selector: "#b", Strategy: browser.StrategyExists},
		{Selector: "#c", Strategy: browser.StrategyExists},
	}
	m, err := chain.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "#b", m.Selector)
}

func TestChain_AllMiss(t *testing.T) {
	p := browsertest.New()
	chain := browser.Chain{
		{Selector: "#a", Strategy: browser.StrategyExists},
		{Selector: "#b", Strategy: browser.StrategyClick},
	}
	_, err := chain.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, browser.ErrNoMatch))
}

func TestChain_EmptyChain(t *testing.T) {
	_, err := browser.Chain{}.Run(context.Background(), browsertest.New())
	assert.ErrorIs(t, err, browser.ErrNoMatch)
}

func TestChain_ClickStrategy(t *testing.T) {
	p := browsertest.New()
	p.Show(".share")

	chain := browser.Chain{
		{Selector: ".missing", Strategy: browser.StrategyClick},
		{Selector: ".share", Strategy: browser.StrategyClick},
	}
	m, err := chain.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, ".share", m.Selector)
	assert.Equal(t, []string{"Click .share"}, p.Calls())
}

func TestChain_WaitClickStrategy(t *testing.T) {
	p := browsertest.New()
	p.Show("#go")

	_, err := browser.Chain{{Selector: "#go", Strategy: browser.StrategyWaitClick}}.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Click #go"}, p.Calls())
}

func TestChain_ValueStrategySkipsEmpty(t *testing.T) {
	p := browsertest.New()
	p.SetInputValue("input.vrsrZe", "  ")
	p.SetInputValue("input[readonly]", "https://maps.app.goo.gl/abc")

	chain := browser.Chain{
		{Selector: "input.vrsrZe", Strategy: browser.StrategyValue},
		{Selector: "input[readonly]", Strategy: browser.StrategyValue},
	}
	m, err := chain.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "input[readonly]", m.Selector)
	assert.Equal(t, "https://maps.app.goo.gl/abc", m.Value)
}

func TestChain_CancelledContext(t *testing.T) {
	p := browsertest.New()
	p.Show("#a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := browser.Chain{{Selector: "#a"}}.Run(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChain_Selectors(t *testing.T) {
	c := browser.Chain{{Selector: "#a"}, {Selector: "#b"}}
	assert.Equal(t, []string{"#a", "#b"}, c.Selectors())
}

func TestWaitAny(t *testing.T) {
	p := browsertest.New()
	p.Show("#results")

	sel, err := browser.WaitAny(context.Background(), p, 50*time.Millisecond, 5*time.Millisecond, "#share", "#results")
	require.NoError(t, err)
	assert.Equal(t, "#results", sel)
}

func TestWaitAny_AppearsLater(t *testing.T) {
	p := browsertest.New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Show("#share")
	}()

	sel, err := browser.WaitAny(context.Background(), p, time.Second, 5*time.Millisecond, "#share", "#results")
	require.NoError(t, err)
	assert.Equal(t, "#share", sel)
}

func TestWaitAny_Timeout(t *testing.T) {
	p := browsertest.New()
	start := time.Now()
	_, err := browser.WaitAny(context.Background(), p, 30*time.Millisecond, 5*time.Millisecond, "#share")
	assert.ErrorIs(t, err, browser.ErrNoMatch)
	assert.Less(t, time.Since(start), time.Second)
}
