package extract

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var monthDirRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

// DefaultFeedSince is the first month with usable feed dumps.
const DefaultFeedSince = "2022-09"

// FindFeedFiles walks root and returns the .json files that sit directly in
// a "YYYY-MM" directory not older than since. Results are sorted by path.
func FindFeedFiles(root, since string) ([]string, error) {
	if since == "" {
		since = DefaultFeedSince
	}
	if !monthDirRe.MatchString(since) {
		return nil, fmt.Errorf("invalid since %q: want YYYY-MM", since)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			return nil
		}
		month := filepath.Base(filepath.Dir(path))
		if !monthDirRe.MatchString(month) || month < since {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk feed root: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// DecodeFeedFile streams the records of one feed dump (a JSON array) to fn
// without buffering the whole array. An element that does not decode as a
// FeedRecord is reported to onErr and skipped; a broken array aborts.
func DecodeFeedFile(path string, fn func(FeedRecord) error, onErr func(index int, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open feed file: %w", err)
	}
	defer f.Close()
	return DecodeFeed(f, fn, onErr)
}

// DecodeFeed is DecodeFeedFile over an arbitrary reader.
func DecodeFeed(r io.Reader, fn func(FeedRecord) error, onErr func(index int, err error)) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("feed: read first token: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("feed: expected array, got %v", tok)
	}

	for i := 0; dec.More(); i++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("feed: element %d: %w", i, err)
		}
		var rec FeedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			if onErr != nil {
				onErr(i, &ConfigError{Source: FeedSource, Reason: fmt.Sprintf("element %d", i), Err: err})
			}
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}

	if end, err := dec.Token(); err != nil {
		return fmt.Errorf("feed: read array end: %w", err)
	} else if end != json.Delim(']') {
		return fmt.Errorf("feed: expected array end ']', got %v", end)
	}
	return nil
}
