package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tiered/internal/shape"
)

// Scenario is a conformance test: definitions, the calls made against
// them, and the assertions checked afterwards.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Defs is a directory of CUE definitions. Functions holds definitions
	// inline instead. Exactly one of them is set.
	Defs      string `yaml:"defs,omitempty"`
	Functions string `yaml:"functions,omitempty"`

	// Cache attaches a private in-memory artifact cache to every
	// dispatcher of the scenario.
	Cache bool `yaml:"cache,omitempty"`

	Calls      []CallStep  `yaml:"calls"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// CallStep is one call of a defined function.
type CallStep struct {
	Call   string        `yaml:"call"`
	Args   []any         `yaml:"args"`
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes the expected outcome of a call. Unset fields are
// not checked.
type ExpectClause struct {
	// Result is compared after normalization; an integer expectation
	// matches a float result of the same value.
	Result any `yaml:"result,omitempty"`

	// Path is compiled, evaluated or none (nothing executed).
	Path string `yaml:"path,omitempty"`

	// Error is the code of the expected error, see ErrorCode.
	Error string `yaml:"error,omitempty"`
}

// Execution paths accepted by ExpectClause.Path.
const (
	PathCompiled  = "compiled"
	PathEvaluated = "evaluated"
	PathNone      = "none"
)

// Assertion is a check evaluated after every call has run.
type Assertion struct {
	Type       string   `yaml:"type"`
	Function   string   `yaml:"function,omitempty"`
	Kind       string   `yaml:"kind,omitempty"`
	Phase      string   `yaml:"phase,omitempty"`
	Signature  string   `yaml:"signature,omitempty"`
	Signatures []string `yaml:"signatures,omitempty"`
	Count      int      `yaml:"count,omitempty"`
}

// Assertion types
const (
	AssertEventCount      = "event_count"
	AssertSpecializations = "specializations"
	AssertHits            = "hits"
	AssertWarnings        = "warnings"
	AssertPolicyCalls     = "policy_calls"
)

// LoadScenario reads and parses a scenario YAML file.
// A relative defs directory is resolved against the scenario file's
// directory. Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Defs != "" && !filepath.IsAbs(scenario.Defs) {
		scenario.Defs = filepath.Join(filepath.Dir(path), scenario.Defs)
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes a scenario without validating it. Unknown fields
// are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Defs == "" && s.Functions == "":
		return fmt.Errorf("one of defs or functions is required")
	case s.Defs != "" && s.Functions != "":
		return fmt.Errorf("defs and functions are mutually exclusive")
	}

	if s.Defs != "" {
		if _, err := os.Stat(s.Defs); os.IsNotExist(err) {
			return fmt.Errorf("defs directory not found: %s", s.Defs)
		}
	}

	if len(s.Calls) == 0 {
		return fmt.Errorf("calls list is required and must be non-empty")
	}

	for i, step := range s.Calls {
		if step.Call == "" {
			return fmt.Errorf("calls[%d]: call is required", i)
		}
		if step.Expect == nil {
			continue
		}
		switch step.Expect.Path {
		case "", PathCompiled, PathEvaluated, PathNone:
		default:
			return fmt.Errorf("calls[%d].expect: unknown path %q", i, step.Expect.Path)
		}
		if step.Expect.Error != "" && step.Expect.Result != nil {
			return fmt.Errorf("calls[%d].expect: result and error are mutually exclusive", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
	case AssertSpecializations:
		if a.Function == "" {
			return fmt.Errorf("assertions[%d]: function is required for specializations", index)
		}
		for _, s := range a.Signatures {
			if _, err := shape.ParseSignature(s); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertHits:
		if a.Function == "" || a.Signature == "" {
			return fmt.Errorf("assertions[%d]: function and signature are required for hits", index)
		}
		if _, err := shape.ParseSignature(a.Signature); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertWarnings:
	case AssertPolicyCalls:
		if a.Function == "" {
			return fmt.Errorf("assertions[%d]: function is required for policy_calls", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
