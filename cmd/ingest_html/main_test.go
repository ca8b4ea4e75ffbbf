package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"joboffers/internal/app"
	"joboffers/internal/offer"
	"joboffers/internal/storage"
)

const selectorsYAML = `
justjoin.it:
  title: {tag: div, class: offer-header}
  company: {tag: a, class: company}
  date_add: {tag: script, class: application/ld+json}
  location: {tag: span, class: city}
  category: {tag: span, class: cat}
  technology_level:
    tag: li
    class: skill
    technology_tag: h4
    level_tag: span
    level_class: level
`

func pageFor(title, date string) string {
	return `<html><head>
<script type="application/ld+json">{"@type":"JobPosting","datePosted":"` + date + `"}</script>
</head><body>
<div class="offer-header"><h1>` + title + `</h1></div>
<a class="company">Acme</a>
<span class="city">Kraków</span>
<span class="cat">Backend</span>
<ul><li class="skill"><h4>Go</h4><span class="level">Advanced</span></li></ul>
</body></html>`
}

type env struct {
	selectors string
	dsn       string
	dir       string
}

func setup(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		selectors: filepath.Join(dir, "selectors.yaml"),
		dsn:       filepath.Join(dir, "offers.db"),
		dir:       dir,
	}
	if err := os.WriteFile(e.selectors, []byte(selectorsYAML), 0o600); err != nil {
		t.Fatalf("write selectors: %v", err)
	}
	return e
}

func (e env) run(t *testing.T, client *http.Client, stdin io.Reader, args ...string) (int, app.Summary, string) {
	t.Helper()
	base := []string{
		"-selectors", e.selectors,
		"-store", "sqlite", "-dsn", e.dsn,
		"-metrics-backend", "none", "-log-level", "error",
	}
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append(base, args...), stdin, &stdout, &stderr, client)

	var sum app.Summary
	if code == 0 {
		if err := json.Unmarshal(stdout.Bytes(), &sum); err != nil {
			t.Fatalf("summary is not JSON: %v; out=%s", err, stdout.String())
		}
	}
	return code, sum, stderr.String()
}

func (e env) offers(t *testing.T) []offer.Offer {
	t.Helper()
	repo, err := storage.Open(context.Background(), storage.Config{Kind: "sqlite", DSN: e.dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer repo.Close()
	rows, err := repo.Offers(context.Background())
	if err != nil {
		t.Fatalf("Offers: %v", err)
	}
	return rows
}

func TestRun_Dir(t *testing.T) {
	t.Parallel()

	e := setup(t)
	pages := filepath.Join(e.dir, "pages")
	if err := os.Mkdir(pages, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"a.html": pageFor("Go Developer", "2024-05-10T08:30:00Z"),
		"b.html": pageFor("Python Developer", "2024-05-11T08:30:00Z"),
		"c.html": pageFor("Go Developer", "2024-05-10T08:30:00Z"),
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(pages, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	code, sum, stderr := e.run(t, nil, nil, "-dir", pages, "-source", "justjoin.it", "-collapse")
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr)
	}
	if sum.Documents != 3 || sum.Inserted != 2 || sum.Skipped != 1 || sum.RunID == "" {
		t.Fatalf("summary=%+v", sum)
	}

	rows := e.offers(t)
	if len(rows) != 2 {
		t.Fatalf("rows=%d want 2", len(rows))
	}
	if offer.Value(rows[0].Location) != "kraków" || rows[0].TechStack["Go"] != 4 || rows[0].Link != nil {
		t.Fatalf("row=%+v", rows[0])
	}
}

// rewrite sends every request to srv, whatever host the URL names.
type rewrite struct{ srv *httptest.Server }

func (r rewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	u, _ := url.Parse(r.srv.URL)
	req = req.Clone(req.Context())
	req.URL.Scheme, req.URL.Host = u.Scheme, u.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestRun_URLAndLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/job-offer/go":
			io.WriteString(w, pageFor("Go Developer", "2024-05-10T08:30:00Z"))
		case "/job-offer/go-refreshed":
			io.WriteString(w, pageFor("Go Developer", "2024-06-01T09:00:00Z"))
		default:
			http.Error(w, "offer expired", http.StatusGone)
		}
	}))
	t.Cleanup(srv.Close)
	client := &http.Client{Transport: rewrite{srv}}

	e := setup(t)
	code, sum, stderr := e.run(t, client, nil, "-url", "https://justjoin.it/job-offer/go")
	if code != 0 || sum.Inserted != 1 {
		t.Fatalf("url run code=%d summary=%+v stderr=%s", code, sum, stderr)
	}

	links := filepath.Join(e.dir, "offers.txt")
	body := "new: https://justjoin.it/job-offer/go-refreshed\n" +
		"gone https://justjoin.it/job-offer/removed\n" +
		"https://example.com/not-supported\n" +
		"no link on this line\n"
	if err := os.WriteFile(links, []byte(body), 0o600); err != nil {
		t.Fatalf("write links: %v", err)
	}
	code, sum, stderr = e.run(t, client, nil, "-links", links)
	if code != 0 {
		t.Fatalf("links run code=%d stderr=%s", code, stderr)
	}
	if sum.Updated != 1 || sum.Rejected != 2 || sum.Documents != 1 {
		t.Fatalf("links summary=%+v", sum)
	}

	rows := e.offers(t)
	if len(rows) != 1 || offer.Value(rows[0].DateAdd) != "2024-06-01 09:00:00" ||
		offer.Value(rows[0].Link) != "https://justjoin.it/job-offer/go-refreshed" {
		t.Fatalf("rows=%+v", rows)
	}
}

func TestRun_Stdin(t *testing.T) {
	t.Parallel()

	e := setup(t)
	code, sum, stderr := e.run(t, nil, strings.NewReader(pageFor("Go Developer", "2024-05-10T08:30:00Z")), "-source", "justjoin.it")
	if code != 0 || sum.Inserted != 1 {
		t.Fatalf("code=%d summary=%+v stderr=%s", code, sum, stderr)
	}
}

func TestRun_UsageAndSetupErrors(t *testing.T) {
	t.Parallel()

	e := setup(t)
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "stdin_without_source", args: nil, want: 2},
		{name: "two_inputs", args: []string{"-url", "https://justjoin.it/x", "-links", "l.txt"}, want: 2},
		{name: "unknown_source", args: []string{"-source", "pracuj.pl"}, want: 2},
		{name: "bad_flag", args: []string{"-nope"}, want: 2},
		{name: "missing_selectors", args: []string{"-source", "justjoin.it", "-selectors", filepath.Join(e.dir, "missing.yaml")}, want: 1},
		{name: "missing_links_file", args: []string{"-links", filepath.Join(e.dir, "missing.txt")}, want: 1},
		{name: "missing_dir", args: []string{"-dir", filepath.Join(e.dir, "nope"), "-source", "justjoin.it"}, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, _, stderr := e.run(t, nil, nil, tc.args...); code != tc.want {
				t.Fatalf("code=%d want %d; stderr=%s", code, tc.want, stderr)
			}
		})
	}
}
