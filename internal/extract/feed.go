package extract

import (
	"fmt"
	"strings"

	"joboffers/internal/offer"
)

// Feed constants for the justjoin.it offer dumps.
const (
	FeedSource     = "justjoin.it"
	feedLinkPrefix = "https://justjoin.it/job-offer/"
)

// FeedRecord is one element of a justjoin.it offers dump.
type FeedRecord struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	CompanyName     string           `json:"company_name"`
	City            string           `json:"city"`
	MarkerIcon      string           `json:"marker_icon"`
	PublishedAt     string           `json:"published_at"`
	ExperienceLevel string           `json:"experience_level"`
	WorkplaceType   string           `json:"workplace_type"`
	EmploymentTypes []FeedEmployment `json:"employment_types"`
	Skills          []FeedSkill      `json:"skills"`
}

// FeedEmployment is one contract offered by a feed record.
type FeedEmployment struct {
	Type   string      `json:"type"`
	Salary *FeedSalary `json:"salary"`
}

// FeedSalary is the optional range attached to a contract.
type FeedSalary struct {
	From     *offer.Amount `json:"from"`
	To       *offer.Amount `json:"to"`
	Currency string        `json:"currency"`
}

// FeedSkill is a required technology with its level (1..5).
type FeedSkill struct {
	Name  string  `json:"name"`
	Level float64 `json:"level"`
}

// FromFeedRecord maps a feed record straight into an Offer, bypassing the
// selector-driven sub-parsers. A record without id or title is rejected.
func FromFeedRecord(rec FeedRecord) (offer.Offer, error) {
	id := cleanText(rec.ID)
	if id == "" {
		return offer.Offer{}, &ConfigError{Source: FeedSource, Reason: "feed record has no id"}
	}
	if cleanText(rec.Title) == "" {
		return offer.Offer{}, &ConfigError{Source: FeedSource, Reason: fmt.Sprintf("feed record %s has no title", id)}
	}

	o := offer.Offer{
		Title:         optional(rec.Title),
		Company:       optional(rec.CompanyName),
		Location:      optionalFolded(rec.City),
		Category:      optionalFolded(rec.MarkerIcon),
		Experience:    optionalFolded(rec.ExperienceLevel),
		OperatingMode: optionalFolded(rec.WorkplaceType),
		Link:          offer.Str(feedLinkPrefix + id),
		Source:        offer.Str(FeedSource),
	}

	if p := cleanText(rec.PublishedAt); p != "" {
		ts, err := offer.CanonicalTimestamp(p)
		if err != nil {
			return offer.Offer{}, &ConfigError{Source: FeedSource, Reason: fmt.Sprintf("feed record %s published_at", id), Err: err}
		}
		o.DateAdd = &ts
	}

	var types []string
	salary := offer.Salary{}
	for _, et := range rec.EmploymentTypes {
		kind := foldCase(cleanText(et.Type))
		if kind == "" {
			continue
		}
		types = append(types, kind)
		if et.Salary == nil || (et.Salary.From == nil && et.Salary.To == nil) {
			continue
		}
		salary[kind] = offer.SalaryRange{
			From:     et.Salary.From,
			To:       et.Salary.To,
			Currency: foldCase(cleanText(et.Salary.Currency)),
		}
	}
	if len(types) > 0 {
		o.Employment = offer.Str(strings.Join(types, ", "))
	}
	if len(salary) > 0 {
		o.Salary = salary
	}

	if len(rec.Skills) > 0 {
		o.TechStack = make(offer.TechStack, len(rec.Skills))
		for _, s := range rec.Skills {
			name := cleanText(s.Name)
			if name == "" {
				continue
			}
			o.TechStack[name] = int(s.Level)
		}
	}

	return o, nil
}
