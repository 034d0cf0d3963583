// Package rubric holds the static self-assessment rubric: ordered domains of
// rated sub-strands plus the four-point rating scale. The rubric drives the
// column layout of the Responses and Drafts tables.
package rubric

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixed, non-rubric columns of the Responses table.
const (
	ColTimestamp  = "Timestamp"
	ColEmail      = "Email"
	ColName       = "Name"
	ColAppraiser  = "Appraiser"
	ColLastEdited = "Last Edited On"

	reflectionSuffix = " Reflection"
)

//go:embed default.yaml
var defaultYAML []byte

type Rating struct {
	Label  string `yaml:"label" json:"label"`
	Abbrev string `yaml:"abbrev" json:"abbrev"`
}

type Substrand struct {
	Code        string            `yaml:"code" json:"code"`
	Label       string            `yaml:"label" json:"label"`
	Descriptors map[string]string `yaml:"descriptors,omitempty" json:"descriptors,omitempty"` // keyed by rating abbrev
}

// Column is the table header used for this sub-strand, e.g. "A1 Expertise".
func (s Substrand) Column() string {
	return s.Code + " " + s.Label
}

type Domain struct {
	Name       string      `yaml:"name" json:"name"`
	Substrands []Substrand `yaml:"substrands" json:"substrands"`
}

// ReflectionColumn is the free-text column header for the domain.
func (d Domain) ReflectionColumn() string {
	return d.Name + reflectionSuffix
}

type Schema struct {
	Version     string   `yaml:"version" json:"version"`
	Title       string   `yaml:"title" json:"title"`
	Reflections bool     `yaml:"reflections" json:"reflections"`
	Ratings     []Rating `yaml:"ratings" json:"ratings"`
	Domains     []Domain `yaml:"domains" json:"domains"`
}

// Default returns the embedded rubric.
func Default() (*Schema, error) {
	return Parse(defaultYAML)
}

// Load reads a rubric from path, or the embedded default when path is empty.
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a rubric document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse rubric: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structural invariants the table layout depends on.
func (s *Schema) Validate() error {
	if len(s.Ratings) != 4 {
		return fmt.Errorf("rubric %q: expected 4 ratings, got %d", s.Version, len(s.Ratings))
	}
	seenRating := make(map[string]bool)
	for _, r := range s.Ratings {
		if r.Label == "" || r.Abbrev == "" {
			return fmt.Errorf("rubric %q: rating with empty label or abbreviation", s.Version)
		}
		for _, key := range []string{"l:" + r.Label, "a:" + r.Abbrev} {
			if seenRating[key] {
				return fmt.Errorf("rubric %q: duplicate rating %q", s.Version, key[2:])
			}
			seenRating[key] = true
		}
	}

	if len(s.Domains) == 0 {
		return fmt.Errorf("rubric %q: no domains", s.Version)
	}
	seenCode := make(map[string]bool)
	seenDomain := make(map[string]bool)
	for _, d := range s.Domains {
		if d.Name == "" {
			return fmt.Errorf("rubric %q: domain with empty name", s.Version)
		}
		if seenDomain[d.Name] {
			return fmt.Errorf("rubric %q: duplicate domain %q", s.Version, d.Name)
		}
		seenDomain[d.Name] = true
		if len(d.Substrands) == 0 {
			return fmt.Errorf("rubric %q: domain %q has no sub-strands", s.Version, d.Name)
		}
		for _, sub := range d.Substrands {
			if sub.Code == "" || sub.Label == "" {
				return fmt.Errorf("rubric %q: domain %q has a sub-strand with empty code or label", s.Version, d.Name)
			}
			key := strings.ToUpper(sub.Code)
			if seenCode[key] {
				return fmt.Errorf("rubric %q: duplicate sub-strand code %q", s.Version, sub.Code)
			}
			seenCode[key] = true
		}
	}
	return nil
}

// Substrands returns every sub-strand in rubric order.
func (s *Schema) Substrands() []Substrand {
	out := make([]Substrand, 0, s.TotalItems())
	for _, d := range s.Domains {
		out = append(out, d.Substrands...)
	}
	return out
}

// TotalItems is the number of ratings a complete submission carries.
func (s *Schema) TotalItems() int {
	n := 0
	for _, d := range s.Domains {
		n += len(d.Substrands)
	}
	return n
}

// Lookup finds a sub-strand by code, case-insensitively.
func (s *Schema) Lookup(code string) (Substrand, bool) {
	for _, d := range s.Domains {
		for _, sub := range d.Substrands {
			if strings.EqualFold(sub.Code, code) {
				return sub, true
			}
		}
	}
	return Substrand{}, false
}

// IsRating reports whether v is one of the rating labels.
func (s *Schema) IsRating(v string) bool {
	for _, r := range s.Ratings {
		if r.Label == v {
			return true
		}
	}
	return false
}

// Abbreviate maps a rating label to its abbreviation; other values pass through.
func (s *Schema) Abbreviate(v string) string {
	for _, r := range s.Ratings {
		if r.Label == v {
			return r.Abbrev
		}
	}
	return v
}

// IsRatingColumn reports whether header is one of the sub-strand columns.
func (s *Schema) IsRatingColumn(header string) bool {
	for _, d := range s.Domains {
		for _, sub := range d.Substrands {
			if sub.Column() == header {
				return true
			}
		}
	}
	return false
}

// IsReflectionColumn reports whether header is a domain reflection column.
func (s *Schema) IsReflectionColumn(header string) bool {
	for _, d := range s.Domains {
		if d.ReflectionColumn() == header {
			return true
		}
	}
	return false
}

// FieldColumns lists the rating and reflection columns in table order.
func (s *Schema) FieldColumns() []string {
	var cols []string
	for _, d := range s.Domains {
		for _, sub := range d.Substrands {
			cols = append(cols, sub.Column())
		}
		if s.Reflections {
			cols = append(cols, d.ReflectionColumn())
		}
	}
	return cols
}

// ResponseHeaders is the expected header row of the Responses table.
func (s *Schema) ResponseHeaders() []string {
	headers := []string{ColTimestamp, ColEmail, ColName, ColAppraiser}
	headers = append(headers, s.FieldColumns()...)
	return append(headers, ColLastEdited)
}

// DraftHeaders is the expected header row of the Drafts table.
func (s *Schema) DraftHeaders() []string {
	return append([]string{ColEmail}, s.FieldColumns()...)
}
