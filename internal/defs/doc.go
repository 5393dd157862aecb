// Package defs loads function definitions from CUE files.
//
// A definitions directory holds one CUE package. Each field under
// "function" declares one dispatched function:
//
//	function: double: {
//		params: ["a"]
//		body:   "a + a"
//		warn_on_fallback: true
//		signatures: ["int64(int64)"]
//		options: { fastmath: false, cache: true, parallel: false, locked: false }
//		policy: {
//			rules: [
//				{ when: ["int64"], action: "compile" },
//				{ when: ["string"], action: "evaluate" },
//			]
//			default: "reject"
//		}
//	}
//
// policy may also name a built-in policy ("always_compile",
// "always_evaluate"). Anything else is not callable and fails the
// definition. Unknown rule actions are accepted here and reported by
// Definition.Check; at call time they are policy contract violations.
//
// Uses the CUE SDK's Go API directly (not CLI subprocess).
package defs
