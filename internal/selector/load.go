package selector

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawInstruction is the on-disk shape of one field entry. Key names follow the
// historical sites_structure file so existing layouts load unchanged.
type rawInstruction struct {
	Kind  string `yaml:"kind"`
	Tag   string `yaml:"tag"`
	Class string `yaml:"class"`
	Type  string `yaml:"type"`
	Key   string `yaml:"key"`

	SalaryTag     string `yaml:"salary_tag"`
	SalaryClass   string `yaml:"salary_class"`
	ContractTag   string `yaml:"contract_tag"`
	ContractClass string `yaml:"contract_class"`

	LabelTag   string `yaml:"label_tag"`
	LabelClass string `yaml:"label_class"`
	ValueTag   string `yaml:"value_tag"`
	ValueClass string `yaml:"value_class"`
	ChildTag   string `yaml:"child_tag"`
	ChildClass string `yaml:"child_class"`

	TechnologyTag   string `yaml:"technology_tag"`
	TechnologyClass string `yaml:"technology_class"`
	LevelTag        string `yaml:"level_tag"`
	LevelClass      string `yaml:"level_class"`
}

// simpleFields are the offer fields a simple instruction may target.
var simpleFields = map[string]bool{
	"title":          true,
	"company":        true,
	"location":       true,
	"category":       true,
	"position":       true,
	"date_add":       true,
	"experience":     true,
	"employment":     true,
	"operating_mode": true,
}

// LoadFile reads a selector file. YAML and JSON are both accepted; field
// order within each source is preserved.
func LoadFile(path string) (*Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selectors file: %w", err)
	}
	spec, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("selectors %s: %w", path, err)
	}
	return spec, nil
}

// Parse decodes a selector document.
func Parse(b []byte) (*Spec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse selectors: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("selectors document is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("selectors root must be a mapping of source -> fields")
	}

	spec := &Spec{sites: make(map[string]Site)}
	for i := 0; i+1 < len(root.Content); i += 2 {
		source := strings.TrimSpace(root.Content[i].Value)
		fieldsNode := root.Content[i+1]
		if source == "" {
			return nil, fmt.Errorf("line %d: empty source key", root.Content[i].Line)
		}
		if _, dup := spec.sites[source]; dup {
			return nil, fmt.Errorf("line %d: duplicate source %q", root.Content[i].Line, source)
		}
		if fieldsNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("source %q: fields must be a mapping", source)
		}

		site := Site{Source: source}
		for j := 0; j+1 < len(fieldsNode.Content); j += 2 {
			name := strings.TrimSpace(fieldsNode.Content[j].Value)
			var raw rawInstruction
			if err := fieldsNode.Content[j+1].Decode(&raw); err != nil {
				return nil, fmt.Errorf("source %q field %q: %w", source, name, err)
			}
			in, err := buildInstruction(name, raw)
			if err != nil {
				return nil, fmt.Errorf("source %q field %q: %w", source, name, err)
			}
			site.Fields = append(site.Fields, Field{Name: name, Instruction: in})
		}
		if len(site.Fields) == 0 {
			return nil, fmt.Errorf("source %q has no fields", source)
		}

		spec.sites[source] = site
		spec.order = append(spec.order, source)
	}

	if len(spec.order) == 0 {
		return nil, fmt.Errorf("selectors file has no sources")
	}
	return spec, nil
}

// defaultKind infers the strategy from the historical field names.
func defaultKind(field string) Kind {
	switch field {
	case "salary":
		return KindSalary
	case "details":
		return KindDetails
	case "technology_level", "tech_stack":
		return KindTechnologyLevel
	case "date_add":
		return KindEmbeddedDate
	default:
		return KindSimple
	}
}

func buildInstruction(field string, raw rawInstruction) (Instruction, error) {
	kind := defaultKind(field)
	if raw.Kind != "" {
		k, ok := ParseKind(raw.Kind)
		if !ok {
			return Instruction{}, fmt.Errorf("unknown kind %q", raw.Kind)
		}
		kind = k
	}

	in := Instruction{
		Kind:    kind,
		Locator: Locator{Tag: raw.Tag, Class: raw.Class},
	}
	if kind != KindEmbeddedDate && in.Locator.IsZero() {
		return Instruction{}, fmt.Errorf("missing tag/class")
	}

	switch kind {
	case KindSimple:
		if !simpleFields[field] {
			return Instruction{}, fmt.Errorf("simple instruction targets unknown field")
		}

	case KindSalary:
		in.Salary = Locator{Tag: raw.SalaryTag, Class: raw.SalaryClass}
		in.Contract = Locator{Tag: raw.ContractTag, Class: raw.ContractClass}
		if in.Salary.IsZero() || in.Contract.IsZero() {
			return Instruction{}, fmt.Errorf("salary needs salary_tag/salary_class and contract_tag/contract_class")
		}

	case KindDetails:
		in.Label = Locator{Tag: raw.LabelTag, Class: raw.LabelClass}
		in.Value = Locator{Tag: raw.ValueTag, Class: raw.ValueClass}
		if in.Value.IsZero() {
			in.Value = Locator{Tag: raw.ChildTag, Class: raw.ChildClass}
		}
		if in.Value.IsZero() {
			return Instruction{}, fmt.Errorf("details needs value_tag/value_class (or child_tag/child_class)")
		}

	case KindTechnologyLevel:
		in.Technology = Locator{Tag: raw.TechnologyTag, Class: raw.TechnologyClass}
		in.Level = Locator{Tag: raw.LevelTag, Class: raw.LevelClass}
		if in.Technology.IsZero() || in.Level.IsZero() {
			return Instruction{}, fmt.Errorf("technology_level needs technology_* and level_* locators")
		}

	case KindEmbeddedDate:
		// The historical layout stores the script type in "class".
		in.Type = raw.Type
		if in.Type == "" {
			in.Type = raw.Class
			in.Locator.Class = ""
		}
		if in.Locator.Tag == "" {
			in.Locator.Tag = "script"
		}
		if in.Type == "" {
			in.Type = "application/ld+json"
		}
		in.Key = raw.Key
		if in.Key == "" {
			in.Key = "datePosted"
		}
	}

	return in, nil
}
