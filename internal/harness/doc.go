// Package harness runs scan-station scenarios as executable contract tests.
//
// A scenario drives a real station (app.App over the session controller,
// capture adapter, router and inventory log) whose capture engine is a
// testutil.ScriptedEngine. Engine calls can be failed or held, so races
// between operator commands and in-flight engine work are reproducible.
//
// # Scenario Format
//
//	name: rapid_double_open
//	description: "A second open while the first is in flight is rejected"
//	symbology: code128          # optional
//	snapshot: "not json"        # optional raw inventory snapshot
//	flow:
//	  - do: initialize
//	  - do: hold
//	    op: attach
//	  - do: open
//	    surface: dock
//	    async: true
//	  - do: open
//	    surface: dock
//	    expect: rejected
//	  - do: release
//	    op: attach
//	assertions:
//	  - type: call_count
//	    op: attach
//	    count: 1
//
// Commands are initialize, retry, open, pause, resume, close and clear.
// Engine steps are detect (emit a detection), fail / heal (inject or clear
// engine faults) and hold / release (block an engine call until released).
// A command's expect is one of ok (default), rejected, not_ready,
// engine_init, attach, detach, camera or detection.
//
// An async command runs in the background. The harness moves on once the
// command is blocked on the held engine call, and checks its outcome at the
// next release step (or at the end of the flow).
//
// # Assertion Types
//
//   - final_state: the reported session state
//   - inventory_count: number of recorded scans
//   - inventory_contains: a scan with the given payload (and symbology)
//   - call_count: number of calls to one engine operation
//   - call_order: engine calls appear in the given order
//   - load_error: the persisted inventory could not be read
//
// Every scenario also fails if two engine calls ever overlapped.
//
// # Deterministic Traces
//
// Record ids come from a sequence, capture times from a deterministic clock
// and engine views are numbered, so a scenario's trace is identical across
// runs and can be compared against a golden file:
//
//	start inventory=0
//	initialize
//	  engine initialize symbology=code128
//	  state uninitialized -> ready
//	  result initialize ok
package harness
