// Package selector holds the per-source field mapping used by the extraction
// engine: which element carries which offer field, and how to read it.
package selector

// Kind selects the extraction strategy for one field.
type Kind int

const (
	// KindSimple plucks the text of a single element.
	KindSimple Kind = iota
	// KindSalary parses repeatable salary/contract blocks into a mapping.
	KindSalary
	// KindDetails routes repeatable label/value rows into offer fields.
	KindDetails
	// KindTechnologyLevel collects repeatable technology/level rows.
	KindTechnologyLevel
	// KindEmbeddedDate reads a date from an embedded JSON-LD script.
	KindEmbeddedDate
)

var kindNames = map[Kind]string{
	KindSimple:          "simple",
	KindSalary:          "salary",
	KindDetails:         "details",
	KindTechnologyLevel: "technology_level",
	KindEmbeddedDate:    "embedded_date",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Locator finds elements by tag name and class list. An empty Tag matches any
// element; an empty Class matches regardless of class. Class may contain
// several space-separated classes, all of which must be present.
type Locator struct {
	Tag   string
	Class string
}

// IsZero reports whether neither tag nor class is set.
func (l Locator) IsZero() bool { return l.Tag == "" && l.Class == "" }

// Instruction is the extraction recipe for one field. Only the locators
// relevant to Kind are populated.
type Instruction struct {
	Kind Kind

	// Element (simple) or repeated block (salary, details, technology_level).
	// For embedded dates, Tag is the script tag and Type its type attribute.
	Locator Locator

	Salary   Locator
	Contract Locator

	// Label may be zero: the matched element is then the label itself and
	// Value is searched within its parent element.
	Label Locator
	Value Locator

	Technology Locator
	Level      Locator

	// Type is the type attribute of the embedded script (KindEmbeddedDate).
	Type string
	// Key is the JSON key holding the date (KindEmbeddedDate).
	Key string
}

// Field pairs a field name with its instruction.
type Field struct {
	Name        string
	Instruction Instruction
}

// Site is the ordered field list for one source.
type Site struct {
	Source string
	Fields []Field
}

// Spec maps source identifiers to their site layouts.
type Spec struct {
	sites map[string]Site
	order []string
}

// Site returns the layout registered for source.
func (s *Spec) Site(source string) (Site, bool) {
	if s == nil {
		return Site{}, false
	}
	site, ok := s.sites[source]
	return site, ok
}

// Sources lists the source identifiers in file order.
func (s *Spec) Sources() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}
