package harness

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// TestScenarios runs every scenario under testdata/scenarios and compares its
// trace with the matching golden file.
func TestScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/close_during_open.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	for range 5 {
		again, err := Run(scenario)
		require.NoError(t, err)
		assert.Equal(t, first.TraceText(), again.TraceText())
	}
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectation",
		Description: "open before initialize is expected to succeed",
		Flow: []FlowStep{
			{Do: StepOpen, Surface: "dock"},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, State: "uninitialized"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[0] open: expected ok, got not_ready")
	assert.Equal(t, "start inventory=0\nopen surface=dock\n  result open not_ready\n", result.TraceText())
}

func TestRun_ScenarioSymbology(t *testing.T) {
	scenario := &Scenario{
		Name:        "qr_station",
		Description: "the station initializes with the scenario symbology",
		Symbology:   "QR",
		Flow: []FlowStep{
			{Do: StepInitialize},
			{Do: StepOpen, Surface: "dock"},
			{Do: StepDetect, Payload: "https://example.com"},
		},
		Assertions: []Assertion{
			{Type: AssertInventoryContains, Payload: "https://example.com", Symbology: "qr"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.EngineCalls(), "initialize symbology=qr")
}

func TestRun_DetachFailureStillSettlesReady(t *testing.T) {
	scenario := &Scenario{
		Name:        "detach_failure",
		Description: "a failed detach is reported but the session lands in ready",
		Flow: []FlowStep{
			{Do: StepInitialize},
			{Do: StepOpen, Surface: "dock"},
			{Do: StepFail, Op: "detach", Error: "surface gone"},
			{Do: StepClose, Expect: "detach"},
			{Do: StepClose},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, State: "ready"},
			{Type: AssertCallCount, Op: "detach", Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.EngineCalls(), "detach view=view-1 -> error: surface gone")
}

func TestRun_StickyFailureUntilHealed(t *testing.T) {
	scenario := &Scenario{
		Name:        "sticky_attach",
		Description: "attach keeps failing until healed",
		Flow: []FlowStep{
			{Do: StepInitialize},
			{Do: StepFail, Op: "attach", Error: "no surface", Always: true},
			{Do: StepOpen, Surface: "dock", Expect: "attach"},
			{Do: StepOpen, Surface: "dock", Expect: "attach"},
			{Do: StepHeal, Op: "attach"},
			{Do: StepOpen, Surface: "dock"},
		},
		Assertions: []Assertion{
			{Type: AssertCallCount, Op: "attach", Count: 3},
			{Type: AssertFinalState, State: "scanning"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.TraceText(), "fail attach: no surface always\n")
	assert.Contains(t, result.TraceText(), "heal attach\n")
}

func TestTraceEvent_String(t *testing.T) {
	assert.Equal(t, "open surface=dock", TraceEvent{Kind: KindStep, Text: "open surface=dock"}.String())
	assert.Equal(t, "  engine camera on", TraceEvent{Kind: KindEngine, Text: "camera on"}.String())
	assert.Equal(t, "  state ready -> mounted", TraceEvent{Kind: KindState, Text: "ready -> mounted"}.String())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "error", outcome(os.ErrNotExist))
}
