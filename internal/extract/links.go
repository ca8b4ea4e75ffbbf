package extract

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	offerURLRe = regexp.MustCompile(`^(http|https)://[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}(/.*)?$`)
	rawLinkRe  = regexp.MustCompile(`https?://\S+`)
)

// MatchSite returns the first supported site whose identifier appears in url.
// It fails for malformed URLs and for URLs of unsupported sites.
func MatchSite(url string, sites []string) (string, error) {
	url = strings.TrimSpace(url)
	if !offerURLRe.MatchString(url) {
		return "", fmt.Errorf("invalid url format: %q", url)
	}
	for _, site := range sites {
		if site != "" && strings.Contains(url, site) {
			return site, nil
		}
	}
	return "", fmt.Errorf("unsupported site for url %q", url)
}

// ReadLinksFile collects the first http(s) link of every line in a raw
// offers file. Lines without a link are ignored.
func ReadLinksFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open links file: %w", err)
	}
	defer f.Close()

	var links []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if m := rawLinkRe.FindString(sc.Text()); m != "" {
			links = append(links, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read links file: %w", err)
	}
	return links, nil
}
