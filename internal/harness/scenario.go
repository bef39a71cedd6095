package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stockscan/internal/testutil"
)

// Scenario defines a station scenario: a flow of operator commands and
// engine events with expected outcomes, and assertions on the end state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Symbology is the configured target symbology. Default: code128.
	Symbology string `yaml:"symbology,omitempty"`

	// Snapshot, if set, is stored raw under the inventory key before start.
	Snapshot *string `yaml:"snapshot,omitempty"`

	// Flow contains the steps, executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one scenario step.
type FlowStep struct {
	// Do names the step: a command (initialize, retry, open, pause, resume,
	// close, clear), an engine event (detect) or an engine control (fail,
	// heal, hold, release).
	Do string `yaml:"do"`

	// Surface is the open target.
	Surface string `yaml:"surface,omitempty"`

	// Payload and Symbology describe a detect step. An empty symbology
	// means the scenario's.
	Payload   string `yaml:"payload,omitempty"`
	Symbology string `yaml:"symbology,omitempty"`

	// Op is the engine operation for fail, heal, hold and release.
	Op string `yaml:"op,omitempty"`

	// Error is the failure message for fail.
	Error string `yaml:"error,omitempty"`

	// Always makes a fail step sticky until healed.
	Always bool `yaml:"always,omitempty"`

	// Async runs a command without waiting for it. Its outcome is checked
	// by the next release step.
	Async bool `yaml:"async,omitempty"`

	// Expect is the expected command outcome. Default: ok.
	Expect string `yaml:"expect,omitempty"`
}

// Step names.
const (
	StepInitialize = "initialize"
	StepRetry      = "retry"
	StepOpen       = "open"
	StepPause      = "pause"
	StepResume     = "resume"
	StepClose      = "close"
	StepClear      = "clear"
	StepDetect     = "detect"
	StepFail       = "fail"
	StepHeal       = "heal"
	StepHold       = "hold"
	StepRelease    = "release"
)

var commandSteps = map[string]bool{
	StepInitialize: true,
	StepRetry:      true,
	StepOpen:       true,
	StepPause:      true,
	StepResume:     true,
	StepClose:      true,
	StepClear:      true,
}

var engineOps = map[string]bool{
	testutil.OpInitialize: true,
	testutil.OpAttach:     true,
	testutil.OpCamera:     true,
	testutil.OpDetection:  true,
	testutil.OpDetach:     true,
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": the reported session state equals State
	// - "inventory_count": the inventory holds Count records
	// - "inventory_contains": a record with Payload (and Symbology, if set) exists
	// - "call_count": engine Op was called exactly Count times
	// - "call_order": Calls appear in the engine trace in this order
	// - "load_error": the inventory load failed with a message containing Contains
	Type string `yaml:"type"`

	State     string   `yaml:"state,omitempty"`
	Count     int      `yaml:"count,omitempty"`
	Payload   string   `yaml:"payload,omitempty"`
	Symbology string   `yaml:"symbology,omitempty"`
	Op        string   `yaml:"op,omitempty"`
	Calls     []string `yaml:"calls,omitempty"`
	Contains  string   `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState        = "final_state"
	AssertInventoryCount    = "inventory_count"
	AssertInventoryContains = "inventory_contains"
	AssertCallCount         = "call_count"
	AssertCallOrder         = "call_order"
	AssertLoadError         = "load_error"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step FlowStep) error {
	switch {
	case step.Do == "":
		return fmt.Errorf("flow[%d]: do is required", i)
	case commandSteps[step.Do]:
		if _, ok := expectations[expectOrOK(step.Expect)]; !ok {
			return fmt.Errorf("flow[%d]: unknown expect %q", i, step.Expect)
		}
		if step.Do == StepOpen && step.Surface == "" {
			return fmt.Errorf("flow[%d]: surface is required for open", i)
		}
	case step.Do == StepDetect:
		if step.Payload == "" {
			return fmt.Errorf("flow[%d]: payload is required for detect", i)
		}
	case step.Do == StepFail || step.Do == StepHeal || step.Do == StepHold || step.Do == StepRelease:
		if !engineOps[step.Op] {
			return fmt.Errorf("flow[%d]: unknown engine op %q", i, step.Op)
		}
		if step.Do == StepFail && step.Error == "" {
			return fmt.Errorf("flow[%d]: error is required for fail", i)
		}
	default:
		return fmt.Errorf("flow[%d]: unknown step %q", i, step.Do)
	}

	if step.Async && !commandSteps[step.Do] {
		return fmt.Errorf("flow[%d]: only commands can be async", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFinalState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	case AssertInventoryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertInventoryContains:
		if a.Payload == "" {
			return fmt.Errorf("assertions[%d]: payload is required for inventory_contains", index)
		}
	case AssertCallCount:
		if !engineOps[a.Op] {
			return fmt.Errorf("assertions[%d]: unknown engine op %q", index, a.Op)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertCallOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for call_order", index)
		}
	case AssertLoadError:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
