// Package scenario holds the catalogue of client personas a trainee can
// practise with.
//
// The built-in personas are embedded; extra scenario files in the same YAML
// format can be layered on top with [Catalogue.LoadFile]. A scenario with the
// ID of an existing one replaces it.
package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML string

// Difficulty levels used by the built-in scenarios.
const (
	DifficultyBeginner     = "Débutant"
	DifficultyIntermediate = "Intermédiaire"
	DifficultyExpert       = "Expert"
)

// Scenario is one simulated client persona.
type Scenario struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Profession  string   `yaml:"profession"`
	Description string   `yaml:"description"`
	Difficulty  string   `yaml:"difficulty"`
	Objectives  []string `yaml:"objectives"`

	// VoiceTag selects the speech voice, e.g. "nova" or "cole".
	VoiceTag string `yaml:"voice"`

	// SystemPrompt is the persona script given to the model.
	SystemPrompt string `yaml:"system_prompt"`
}

// File is the top-level structure of a scenario YAML file.
//
// Example:
//
//	scenarios:
//	  - id: julie
//	    name: Julie
//	    title: "Julie - Retour Maternité"
//	    difficulty: Débutant
//	    voice: nova
//	    system_prompt: |
//	      Tu es Julie Martin...
type File struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Validate checks the required fields of s.
func (s Scenario) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if s.Title == "" {
		errs = append(errs, errors.New("title must not be empty"))
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		errs = append(errs, errors.New("system_prompt must not be empty"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("scenario %q: %w", s.ID, errors.Join(errs...))
}

// Parse decodes scenario YAML, rejecting unknown keys, and validates every
// entry.
func Parse(r io.Reader) ([]Scenario, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("scenario: decode yaml: %w", err)
	}
	var errs []error
	for i := range f.Scenarios {
		f.Scenarios[i].SystemPrompt = strings.TrimSpace(f.Scenarios[i].SystemPrompt)
		if f.Scenarios[i].Name == "" {
			f.Scenarios[i].Name = nameFromTitle(f.Scenarios[i].Title)
		}
		if err := f.Scenarios[i].Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Scenarios, nil
}

// nameFromTitle takes the part of "Name - Tagline" before the dash.
func nameFromTitle(title string) string {
	name, _, _ := strings.Cut(title, " - ")
	return strings.TrimSpace(name)
}

// Catalogue is an ordered, concurrency-safe set of scenarios.
type Catalogue struct {
	mu        sync.RWMutex
	scenarios []Scenario
	matcher   *Matcher
}

// NewCatalogue returns a catalogue holding scenarios in the given order.
func NewCatalogue(scenarios ...Scenario) *Catalogue {
	c := &Catalogue{matcher: NewMatcher()}
	c.Add(scenarios...)
	return c
}

// Builtin returns a catalogue of the embedded personas.
func Builtin() (*Catalogue, error) {
	s, err := Parse(strings.NewReader(builtinYAML))
	if err != nil {
		return nil, fmt.Errorf("scenario: builtin: %w", err)
	}
	return NewCatalogue(s...), nil
}

// Add inserts scenarios, replacing any existing entry with the same ID in
// place.
func (c *Catalogue) Add(scenarios ...Scenario) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range scenarios {
		i := slices.IndexFunc(c.scenarios, func(e Scenario) bool { return e.ID == s.ID })
		if i >= 0 {
			c.scenarios[i] = s
			continue
		}
		c.scenarios = append(c.scenarios, s)
	}
}

// LoadFile parses the scenario file at path and adds its entries.
func (c *Catalogue) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return fmt.Errorf("scenario: parse %q: %w", path, err)
	}
	c.Add(s...)
	return nil
}

// All returns a copy of the scenarios in catalogue order.
func (c *Catalogue) All() []Scenario {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.scenarios)
}

// Len returns the number of scenarios.
func (c *Catalogue) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scenarios)
}

// Find resolves a user query to a scenario: a 1-based index into [All], an
// exact ID, a case-insensitive persona name, and finally a fuzzy match on
// names and titles.
func (c *Catalogue) Find(query string) (Scenario, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Scenario{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if n, err := strconv.Atoi(q); err == nil && n >= 1 && n <= len(c.scenarios) {
		return c.scenarios[n-1], true
	}
	for _, s := range c.scenarios {
		if s.ID == q {
			return s, true
		}
	}
	for _, s := range c.scenarios {
		if strings.EqualFold(s.Name, q) {
			return s, true
		}
	}

	candidates := make([]string, 0, 2*len(c.scenarios))
	owner := make(map[string]int, 2*len(c.scenarios))
	for i, s := range c.scenarios {
		for _, label := range []string{s.Name, s.Title} {
			if label == "" {
				continue
			}
			if _, dup := owner[label]; !dup {
				owner[label] = i
				candidates = append(candidates, label)
			}
		}
	}
	if label, _, ok := c.matcher.Match(q, candidates); ok {
		return c.scenarios[owner[label]], true
	}
	return Scenario{}, false
}
