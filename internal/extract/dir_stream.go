package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/PuerkitoBio/goquery"
)

// StreamDir parses every regular file in dir as HTML and hands it to fn, in
// filename order. Files that cannot be read or parsed are reported to onSkip
// and skipped; an error from fn stops the walk.
func StreamDir(dir string, fn func(name string, doc *goquery.Document) error, onSkip func(name string, err error)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	skip := func(name string, err error) {
		if onSkip != nil {
			onSkip(name, err)
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		full := filepath.Join(dir, e.Name())
		f, err := os.Open(full)
		if err != nil {
			skip(e.Name(), &ConfigError{Reason: "open document", Err: err})
			continue
		}
		doc, err := goquery.NewDocumentFromReader(f)
		_ = f.Close()
		if err != nil {
			skip(e.Name(), &ConfigError{Reason: "parse document", Err: err})
			continue
		}

		if err := fn(e.Name(), doc); err != nil {
			return err
		}
	}
	return nil
}
