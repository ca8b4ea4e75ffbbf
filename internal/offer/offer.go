// Package offer defines the canonical job-offer record shared by extraction,
// reconciliation and reporting.
package offer

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Columns is the ordered list of columns written by the reconciler.
//
// position is intentionally absent: it is readable from the store but never
// part of an insert or update.
var Columns = []string{
	"title",
	"company",
	"location",
	"category",
	"date_add",
	"salary",
	"experience",
	"employment",
	"operating_mode",
	"tech_stack",
	"link",
	"source",
}

// IdentityColumns is the (title, company, location, category) natural key.
var IdentityColumns = []string{"title", "company", "location", "category"}

// LinkColumn is the alternate natural key.
const LinkColumn = "link"

// ReadColumns is the column order used when scanning rows back (id first).
var ReadColumns = []string{
	"id",
	"title",
	"company",
	"location",
	"category",
	"position",
	"date_add",
	"salary",
	"experience",
	"employment",
	"operating_mode",
	"tech_stack",
	"link",
	"source",
}

// Offer is one normalized job posting. Nil pointers and nil maps are NULL.
type Offer struct {
	ID            int64     `json:"id,omitempty"`
	Title         *string   `json:"title"`
	Company       *string   `json:"company"`
	Location      *string   `json:"location"`
	Category      *string   `json:"category"`
	Position      *string   `json:"position"`
	DateAdd       *string   `json:"date_add"`
	Salary        Salary    `json:"salary"`
	Experience    *string   `json:"experience"`
	Employment    *string   `json:"employment"`
	OperatingMode *string   `json:"operating_mode"`
	TechStack     TechStack `json:"tech_stack"`
	Link          *string   `json:"link"`
	Source        *string   `json:"source"`
}

// SalaryRange is the amount range offered under one contract type.
type SalaryRange struct {
	From     *Amount `json:"from"`
	To       *Amount `json:"to"`
	Currency string  `json:"currency"`
}

// Salary maps a lowercase contract type ("b2b", "permanent", ...) to its range.
type Salary map[string]SalaryRange

// TechStack maps a technology name to a skill level in 0..5.
type TechStack map[string]int

// Amount is a salary bound. Stored rows written by older ingestion runs carry
// numbers as JSON strings, so decoding accepts both forms.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.Join(strings.Fields(s), "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("salary amount %q: %w", s, err)
	}
	*a = Amount(v)
	return nil
}

// Str returns a pointer to s. Handy for building offers in code.
func Str(s string) *string { return &s }

// Value returns *p or "" when p is nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Args returns the values for Columns, in order, ready for a SQL statement.
func (o Offer) Args() ([]any, error) {
	salary, err := o.Salary.Text()
	if err != nil {
		return nil, err
	}
	tech, err := o.TechStack.Text()
	if err != nil {
		return nil, err
	}
	return []any{
		nullable(o.Title),
		nullable(o.Company),
		nullable(o.Location),
		nullable(o.Category),
		nullable(o.DateAdd),
		salary,
		nullable(o.Experience),
		nullable(o.Employment),
		nullable(o.OperatingMode),
		tech,
		nullable(o.Link),
		nullable(o.Source),
	}, nil
}

// Column returns the argument for a single named column.
func (o Offer) Column(name string) (any, error) {
	args, err := o.Args()
	if err != nil {
		return nil, err
	}
	for i, c := range Columns {
		if c == name {
			return args[i], nil
		}
	}
	return nil, fmt.Errorf("offer: unknown column %q", name)
}

// Text serializes the salary mapping; a nil mapping is SQL NULL.
func (s Salary) Text() (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal salary: %w", err)
	}
	return sql.NullString{String: strings.ToLower(string(b)), Valid: true}, nil
}

// Text serializes the tech stack; a nil mapping is SQL NULL.
func (t TechStack) Text() (sql.NullString, error) {
	if t == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal tech_stack: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// ParseSalary decodes a stored salary blob. Empty text is a nil mapping.
func ParseSalary(text string) (Salary, error) {
	if strings.TrimSpace(text) == "" || text == "null" {
		return nil, nil
	}
	var s Salary
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("parse salary: %w", err)
	}
	return s, nil
}

// ParseTechStack decodes a stored tech_stack blob. Levels that were stored
// as strings or floats are coerced to int.
func ParseTechStack(text string) (TechStack, error) {
	if strings.TrimSpace(text) == "" || text == "null" {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse tech_stack: %w", err)
	}
	out := make(TechStack, len(raw))
	for name, v := range raw {
		switch lv := v.(type) {
		case float64:
			out[name] = int(lv)
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(lv))
			if err != nil {
				n = 0
			}
			out[name] = n
		default:
			out[name] = 0
		}
	}
	return out, nil
}

func nullable(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
