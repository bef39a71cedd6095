package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "test.yaml")

	content := `
name: test_scenario
description: "Test scenario for validation"
symbology: qr
flow:
  - do: initialize
  - do: open
    surface: dock
  - do: detect
    payload: A1
assertions:
  - type: inventory_count
    count: 1
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, "qr", scenario.Symbology)
	assert.Nil(t, scenario.Snapshot)
	require.Len(t, scenario.Flow, 3)
	assert.Equal(t, StepOpen, scenario.Flow[1].Do)
	assert.Equal(t, "dock", scenario.Flow[1].Surface)
	assert.Equal(t, "A1", scenario.Flow[2].Payload)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertInventoryCount, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_EmptySnapshotIsKept(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: s
description: d
snapshot: ""
flow:
  - do: initialize
assertions:
  - type: load_error
`))
	require.NoError(t, err)
	require.NotNil(t, scenario.Snapshot)
	assert.Equal(t, "", *scenario.Snapshot)
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: s
description: d
flow:
  - do: initialize
assertion:
  - type: final_state
    state: ready
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nflow: [{do: initialize}]\nassertions: [{type: load_error}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: s\nflow: [{do: initialize}]\nassertions: [{type: load_error}]\n",
			want: "description is required",
		},
		{
			name: "empty flow",
			yaml: "name: s\ndescription: d\nflow: []\nassertions: [{type: load_error}]\n",
			want: "flow list is required",
		},
		{
			name: "empty assertions",
			yaml: "name: s\ndescription: d\nflow: [{do: initialize}]\nassertions: []\n",
			want: "assertions list is required",
		},
		{
			name: "unknown step",
			yaml: "name: s\ndescription: d\nflow: [{do: reboot}]\nassertions: [{type: load_error}]\n",
			want: `flow[0]: unknown step "reboot"`,
		},
		{
			name: "open without surface",
			yaml: "name: s\ndescription: d\nflow: [{do: open}]\nassertions: [{type: load_error}]\n",
			want: "surface is required for open",
		},
		{
			name: "detect without payload",
			yaml: "name: s\ndescription: d\nflow: [{do: detect}]\nassertions: [{type: load_error}]\n",
			want: "payload is required for detect",
		},
		{
			name: "fail without error",
			yaml: "name: s\ndescription: d\nflow: [{do: fail, op: camera}]\nassertions: [{type: load_error}]\n",
			want: "error is required for fail",
		},
		{
			name: "unknown engine op",
			yaml: "name: s\ndescription: d\nflow: [{do: hold, op: focus}]\nassertions: [{type: load_error}]\n",
			want: `unknown engine op "focus"`,
		},
		{
			name: "async detect",
			yaml: "name: s\ndescription: d\nflow: [{do: detect, payload: A, async: true}]\nassertions: [{type: load_error}]\n",
			want: "only commands can be async",
		},
		{
			name: "unknown expect",
			yaml: "name: s\ndescription: d\nflow: [{do: close, expect: exploded}]\nassertions: [{type: load_error}]\n",
			want: `unknown expect "exploded"`,
		},
		{
			name: "final_state without state",
			yaml: "name: s\ndescription: d\nflow: [{do: initialize}]\nassertions: [{type: final_state}]\n",
			want: "state is required for final_state",
		},
		{
			name: "call_count unknown op",
			yaml: "name: s\ndescription: d\nflow: [{do: initialize}]\nassertions: [{type: call_count, op: zoom}]\n",
			want: `assertions[0]: unknown engine op "zoom"`,
		},
		{
			name: "call_order without calls",
			yaml: "name: s\ndescription: d\nflow: [{do: initialize}]\nassertions: [{type: call_order}]\n",
			want: "calls list is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: s\ndescription: d\nflow: [{do: initialize}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDir_SortedByFileName(t *testing.T) {
	dir := t.TempDir()
	write := func(file, name string) {
		content := "name: " + name + "\ndescription: d\nflow: [{do: initialize}]\nassertions: [{type: final_state, state: ready}]\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0644))
	}
	write("b.yaml", "second")
	write("a.yaml", "first")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)
}

func TestLoadDir_ReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unclosed"), 0644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
