package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const selectorsYAML = `
justjoin.it:
  title: {tag: div, class: offer-header}
  company: {tag: a, class: company}
  date_add: {tag: script, class: application/ld+json}
  location: {tag: span, class: city}
  category: {tag: span, class: cat}
`

const page = `<html><head>
<script type="application/ld+json">{"@type":"JobPosting","datePosted":"2024-05-10T08:30:00Z"}</script>
</head><body>
<div class="offer-header"><h1>Go Developer</h1></div>
<a class="company">Acme</a>
<span class="city">Kraków</span>
</body></html>`

func writeSelectors(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "selectors.yaml")
	if err := os.WriteFile(p, []byte(selectorsYAML), 0o600); err != nil {
		t.Fatalf("write selectors: %v", err)
	}
	return p
}

func runCmd(t *testing.T, client *http.Client, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"-log-level", "error"}, args...), strings.NewReader(stdin), &stdout, &stderr, client)
	return code, stdout.String(), stderr.String()
}

// TestRun_Stdin checks the normalized offer and that a missing field is
// reported without failing the page.
func TestRun_Stdin(t *testing.T) {
	t.Parallel()

	code, out, stderr := runCmd(t, http.DefaultClient, page, "-selectors", writeSelectors(t), "-source", "justjoin.it")
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr)
	}

	var got document
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("stdout is not valid json: %v; out=%s", err, out)
	}
	if *got.Offer.Title != "Go Developer" || *got.Offer.Location != "kraków" || *got.Offer.DateAdd != "2024-05-10 08:30:00" {
		t.Fatalf("offer=%+v", got.Offer)
	}
	if got.Offer.Category != nil || len(got.Errors) != 1 || !strings.Contains(got.Errors[0], "category") {
		t.Fatalf("category=%v errors=%v", got.Offer.Category, got.Errors)
	}
}

type rewrite struct{ srv *httptest.Server }

func (r rewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme, req.URL.Host = "http", strings.TrimPrefix(r.srv.URL, "http://")
	return http.DefaultTransport.RoundTrip(req)
}

func TestRun_URLMatchesSite(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, page)
	}))
	t.Cleanup(srv.Close)

	link := "https://justjoin.it/job-offer/acme-go"
	code, out, stderr := runCmd(t, &http.Client{Transport: rewrite{srv}}, "", "-selectors", writeSelectors(t), "-url", link)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr)
	}
	var got document
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Offer.Link == nil || *got.Offer.Link != link || *got.Offer.Source != "justjoin.it" {
		t.Fatalf("offer=%+v", got.Offer)
	}
}

func TestRun_Dir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b.html", "a.html"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(page), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	code, out, stderr := runCmd(t, http.DefaultClient, "", "-selectors", writeSelectors(t), "-source", "justjoin.it", "-dir", dir)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr)
	}
	var got []document
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("stdout is not a json array: %v; out=%s", err, out)
	}
	if len(got) != 2 || got[0].File != "a.html" || got[1].File != "b.html" {
		t.Fatalf("got %d documents: %+v", len(got), got)
	}
}

func TestRun_DebugModes(t *testing.T) {
	t.Parallel()

	code, out, stderr := runCmd(t, http.DefaultClient, `<div class="x">  A  </div><div class="x">B</div>`, "-selector", "div.x", "-text")
	if code != 0 {
		t.Fatalf("selector mode returned %d; stderr=%s", code, stderr)
	}
	if out != "A\n\nB\n\n" {
		t.Fatalf("selector output=%q", out)
	}

	code, out, stderr = runCmd(t, http.DefaultClient, page, "-selectors", writeSelectors(t), "-source", "justjoin.it", "-fields")
	if code != 0 {
		t.Fatalf("fields mode returned %d; stderr=%s", code, stderr)
	}
	if !strings.Contains(out, "title") || !strings.Contains(out, "matches=1") || !strings.Contains(out, "matches=0") {
		t.Fatalf("fields output=%s", out)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	sel := writeSelectors(t)
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "url_and_dir", args: []string{"-url", "https://justjoin.it/x", "-dir", "."}, want: 2},
		{name: "missing_source", args: []string{"-selectors", sel}, want: 2},
		{name: "unknown_source", args: []string{"-selectors", sel, "-source", "pracuj.pl"}, want: 2},
		{name: "unsupported_url", args: []string{"-selectors", sel, "-url", "https://example.com/offer"}, want: 2},
		{name: "missing_selectors", args: []string{"-selectors", filepath.Join(t.TempDir(), "none.yaml"), "-source", "justjoin.it"}, want: 2},
		{name: "bad_log_level", args: []string{"-log-level", "loud"}, want: 2},
		{name: "missing_dir", args: []string{"-selectors", sel, "-source", "justjoin.it", "-dir", filepath.Join(t.TempDir(), "nope")}, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, _, stderr := runCmd(t, http.DefaultClient, "", tc.args...); code != tc.want {
				t.Fatalf("code=%d want %d; stderr=%s", code, tc.want, stderr)
			}
		})
	}
}
