package storage

import (
	"fmt"
	"time"
)

// Filter restricts which primary rows enter the working table. Zero values
// mean "no constraint". Every populated criterion must hold.
type Filter struct {
	// DateFrom and DateTo are inclusive YYYY-MM-DD bounds on the date part
	// of date_add.
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`

	Categories []string `json:"categories,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	// Positions is matched against the location column; existing
	// dashboards depend on it.
	Positions      []string `json:"positions,omitempty"`
	Experiences    []string `json:"experiences,omitempty"`
	OperatingModes []string `json:"operating_modes,omitempty"`
}

// Validate checks the date bounds.
func (f Filter) Validate() error {
	for name, v := range map[string]string{"date_from": f.DateFrom, "date_to": f.DateTo} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return fmt.Errorf("filter %s=%q: want YYYY-MM-DD", name, v)
		}
	}
	if f.DateFrom != "" && f.DateTo != "" && f.DateFrom > f.DateTo {
		return fmt.Errorf("filter date_from %s is after date_to %s", f.DateFrom, f.DateTo)
	}
	return nil
}

// InList is one "column IN (...)" criterion of a Filter.
type InList struct {
	Column string
	Values []string
}

// Lists returns the populated IN criteria in a fixed order.
func (f Filter) Lists() []InList {
	all := []InList{
		{Column: "category", Values: f.Categories},
		{Column: "location", Values: f.Locations},
		{Column: "location", Values: f.Positions},
		{Column: "experience", Values: f.Experiences},
		{Column: "operating_mode", Values: f.OperatingModes},
	}
	out := all[:0]
	for _, l := range all {
		if len(l.Values) > 0 {
			out = append(out, l)
		}
	}
	return out
}

// Dimension is a grouping key of the working table.
type Dimension string

const (
	DimLocation      Dimension = "location"
	DimExperience    Dimension = "experience"
	DimOperatingMode Dimension = "operating_mode"
	// DimYearMonth groups by the first seven characters of date_add.
	DimYearMonth Dimension = "year_month"
)

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimLocation, DimExperience, DimOperatingMode, DimYearMonth:
		return true
	}
	return false
}

// GroupCount is one row of a grouped count. NULL keys are reported as "".
type GroupCount struct {
	Key   string `json:"key"`
	Total int64  `json:"total"`
}

// DistinctColumns are the columns Distinct accepts.
var DistinctColumns = map[string]bool{
	"category":       true,
	"location":       true,
	"position":       true,
	"experience":     true,
	"operating_mode": true,
}
