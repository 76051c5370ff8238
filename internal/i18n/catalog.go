// Package i18n resolves user-facing text by language code and key.
//
// The catalog is loaded once from the embedded languages.json and is
// read-only afterwards, so it is safe for concurrent use.
package i18n

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

//go:embed languages.json
var embedded []byte

// DefaultLanguage is used when a tenant has no language code stored.
const DefaultLanguage = "en"

// Catalog maps language code -> key -> text.
type Catalog struct {
	texts map[string]map[string]string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the process-wide catalog built from the embedded file.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(embedded)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for callers that treat a broken embed as fatal.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse builds a catalog from JSON shaped like {"en": {"key": "text"}}.
func Parse(data []byte) (*Catalog, error) {
	var texts map[string]map[string]string
	if err := json.Unmarshal(data, &texts); err != nil {
		return nil, fmt.Errorf("parse language catalog: %w", err)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("parse language catalog: no languages")
	}
	return &Catalog{texts: texts}, nil
}

// Text returns the phrase for lang/key. An empty lang means DefaultLanguage.
// Unknown languages or keys yield a visible placeholder, never an error.
func (c *Catalog) Text(lang, key string) string {
	if lang == "" {
		lang = DefaultLanguage
	}
	if t, ok := c.texts[lang][key]; ok {
		return t
	}
	return fmt.Sprintf("[%s not found in %s]", key, lang)
}

// Languages lists the language codes in the catalog, sorted.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.texts))
	for l := range c.texts {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Has reports whether the catalog knows lang.
func (c *Catalog) Has(lang string) bool {
	_, ok := c.texts[lang]
	return ok
}
