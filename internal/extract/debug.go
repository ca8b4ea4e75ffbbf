package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"joboffers/internal/selector"
)

// DebugPrintSelector prints the outer HTML (or text) of every match of a raw
// CSS selector. It backs the -selector mode of the extract_offer command.
func DebugPrintSelector(w io.Writer, doc *goquery.Document, css string, textOnly bool) {
	doc.Find(css).Each(func(_ int, s *goquery.Selection) {
		if textOnly {
			fmt.Fprintln(w, cleanText(s.Text()))
			fmt.Fprintln(w)
			return
		}
		out, err := goquery.OuterHtml(s)
		if err != nil {
			out, _ = s.Html()
		}
		fmt.Fprintln(w, out)
		fmt.Fprintln(w)
	})
}

// DebugPrintSite reports, for each field of site, how many elements its
// locator matches in doc and the first match's text. Useful when a page
// layout changes and fields start coming back empty.
func DebugPrintSite(w io.Writer, doc *goquery.Document, site selector.Site) {
	for _, f := range site.Fields {
		in := f.Instruction
		matches := find(doc.Selection, in.Locator)
		if in.Kind == selector.KindEmbeddedDate {
			matches = matches.FilterFunction(func(_ int, s *goquery.Selection) bool {
				t, _ := s.Attr("type")
				return strings.EqualFold(strings.TrimSpace(t), in.Type)
			})
		}

		first := ""
		if matches.Length() > 0 {
			first = abbreviate(strings.Join(strings.Fields(matches.First().Text()), " "))
		}
		fmt.Fprintf(w, "%-18s %-16s matches=%-3d %s\n", f.Name, in.Kind, matches.Length(), first)
	}
}
