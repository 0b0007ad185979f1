package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.Validate())

	assert.Equal(t, "#searchboxinput", c.SearchInput[0].Selector)
	assert.Equal(t, StrategyWait, c.SearchInput[0].Strategy)
	assert.Equal(t, 8*time.Second, c.SearchInput[0].Timeout)
	assert.Len(t, c.ShareButton, 5)
	assert.Equal(t, `a[href^="https://www.google.com/maps/place"]`, c.ResultLinks)
	assert.Contains(t, c.CopyWords, "sao chép")
	assert.Equal(t, []string{"input.vrsrZe", "input[readonly]"}, c.LinkInput.Selectors())
}

func TestParseCatalog_PartialOverride(t *testing.T) {
	c, err := ParseCatalog([]byte(`
share_button:
  - selector: "#new-share"
    strategy: waitclick
    timeout: 1500ms
`))
	require.NoError(t, err)
	require.Len(t, c.ShareButton, 1)
	assert.Equal(t, StrategyWaitClick, c.ShareButton[0].Strategy)
	assert.Equal(t, 1500*time.Millisecond, c.ShareButton[0].Timeout)
	assert.Equal(t, "#searchboxinput", c.SearchInput[0].Selector)
}

func TestParseCatalog_UnknownStrategy(t *testing.T) {
	_, err := ParseCatalog([]byte(`
search_input:
  - selector: "#q"
    strategy: hover
`))
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.NotEmpty(t, c.SearchInput)

	path := filepath.Join(t.TempDir(), "sel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("result_links: 'a.result'\n"), 0o644))
	c, err = LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "a.result", c.ResultLinks)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
