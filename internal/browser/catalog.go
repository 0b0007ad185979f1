package browser

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultCatalog []byte

// Catalog holds every selector the locate driver uses.
type Catalog struct {
	SearchInput Chain    `yaml:"search_input"`
	ShareButton Chain    `yaml:"share_button"`
	ResultLinks string   `yaml:"result_links"`
	CopyLink    Chain    `yaml:"copy_link"`
	CopyWords   []string `yaml:"copy_words"`
	LinkInput   Chain    `yaml:"link_input"`
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() Catalog {
	var c Catalog
	if err := yaml.Unmarshal(defaultCatalog, &c); err != nil {
		panic(eris.Wrap(err, "browser: embedded selector catalog"))
	}
	return c
}

// ParseCatalog decodes a YAML catalog. Sections missing from data keep the
// embedded defaults.
func ParseCatalog(data []byte) (Catalog, error) {
	c := DefaultCatalog()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, eris.Wrap(err, "browser: parse selector catalog")
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// LoadCatalog reads an override file, or returns the embedded catalog when
// path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, eris.Wrapf(err, "browser: read selector catalog %s", path)
	}
	return ParseCatalog(data)
}

// Validate checks that every required section is present.
func (c Catalog) Validate() error {
	switch {
	case len(c.SearchInput) == 0:
		return eris.New("browser: catalog missing search_input")
	case len(c.ShareButton) == 0:
		return eris.New("browser: catalog missing share_button")
	case c.ResultLinks == "":
		return eris.New("browser: catalog missing result_links")
	case len(c.LinkInput) == 0:
		return eris.New("browser: catalog missing link_input")
	}
	return nil
}
