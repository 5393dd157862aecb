// Package harness provides conformance testing for dispatcher definitions.
//
// The harness loads function definitions, replays a scenario's calls
// against fresh dispatchers and checks both the per-call expectations and
// the scenario assertions against the recorded trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	defs: ../defs            # directory, relative to the scenario file
//	cache: true              # optional in-memory artifact cache
//	calls:
//	  - call: add
//	    args: [1, 2]
//	    expect:
//	      result: 3
//	      path: compiled
//	  - call: add
//	    args: ["a", "b"]
//	    expect:
//	      error: DISPATCH_REJECTED
//	assertions:
//	  - type: specializations
//	    function: add
//	    signatures: ["(int64, int64)"]
//	  - type: event_count
//	    kind: compiled_execution
//	    count: 1
//
// Instead of defs a scenario may carry its definitions inline as a CUE
// string under functions.
//
// # Assertion Types
//
//   - event_count: number of execution events of a kind (start phase unless
//     phase is given), optionally for one function
//   - specializations: the exact signatures a function's store holds, in
//     insertion order
//   - hits: the exact-match hit count of one signature
//   - warnings: number of fallback warnings, optionally for one function
//   - policy_calls: number of times a function's policy was consulted
//
// # Deterministic Testing
//
// Every run uses a fresh testutil.DeterministicClock shared by all
// dispatchers of the scenario and a testutil.FixedIDGenerator, so traces
// are identical across runs and can be compared with golden files.
package harness
