package report

import (
	"math"
	"sort"
	"strings"

	"joboffers/internal/offer"
)

// Contract types averaged by AverageSalary.
const (
	contractB2B       = "b2b"
	contractPermanent = "permanent"
)

// SalaryRow is one (experience, currency) group. A nil average means no
// offer in the group had that contract type.
type SalaryRow struct {
	Experience   string   `json:"experience"`
	Currency     string   `json:"currency"`
	AvgB2B       *float64 `json:"avg_b2b"`
	AvgPermanent *float64 `json:"avg_permanent"`
}

// TechRow is one (technology, level) pair. TotalForTech counts offers with
// the technology at any level.
type TechRow struct {
	Technology   string `json:"technology"`
	Level        int    `json:"level"`
	Offers       int    `json:"offers"`
	TotalForTech int    `json:"total_for_tech"`
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := math.Round(m.sum / float64(m.n))
	return &v
}

// midpoint returns round((from+to)/2) when the range is complete.
func midpoint(r offer.SalaryRange) (float64, bool) {
	if r.From == nil || r.To == nil || r.Currency == "" {
		return 0, false
	}
	return math.Round((float64(*r.From) + float64(*r.To)) / 2), true
}

func averageSalary(offers []offer.Offer) []SalaryRow {
	type key struct{ experience, currency string }
	type sides struct{ b2b, permanent mean }

	groups := make(map[key]*sides)
	side := func(k key) *sides {
		s, ok := groups[k]
		if !ok {
			s = &sides{}
			groups[k] = s
		}
		return s
	}

	for _, o := range offers {
		exp := offer.Value(o.Experience)
		if r, ok := o.Salary[contractB2B]; ok {
			if m, ok := midpoint(r); ok {
				side(key{exp, strings.ToUpper(r.Currency)}).b2b.add(m)
			}
		}
		if r, ok := o.Salary[contractPermanent]; ok {
			if m, ok := midpoint(r); ok {
				side(key{exp, strings.ToUpper(r.Currency)}).permanent.add(m)
			}
		}
	}

	out := make([]SalaryRow, 0, len(groups))
	for k, s := range groups {
		out = append(out, SalaryRow{
			Experience:   k.experience,
			Currency:     k.currency,
			AvgB2B:       s.b2b.value(),
			AvgPermanent: s.permanent.value(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Experience != out[j].Experience {
			return out[i].Experience < out[j].Experience
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

func technologies(offers []offer.Offer) []TechRow {
	type pair struct {
		tech  string
		level int
	}
	pairs := make(map[pair]int)
	totals := make(map[string]int)

	for _, o := range offers {
		for tech, level := range o.TechStack {
			pairs[pair{tech, level}]++
			totals[tech]++
		}
	}

	out := make([]TechRow, 0, len(pairs))
	for p, n := range pairs {
		out = append(out, TechRow{
			Technology:   p.tech,
			Level:        p.level,
			Offers:       n,
			TotalForTech: totals[p.tech],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.TotalForTech != b.TotalForTech:
			return a.TotalForTech > b.TotalForTech
		case a.Offers != b.Offers:
			return a.Offers > b.Offers
		case a.Technology != b.Technology:
			return a.Technology < b.Technology
		default:
			return a.Level > b.Level
		}
	})
	return out
}

// SplitList splits a comma-separated filter value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
