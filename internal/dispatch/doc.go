// Package dispatch routes calls between compiled and evaluated execution.
//
// A Dispatcher wraps one function. Every call follows the same sequence:
//
//  1. Exact match: a specialization for the call's signature exists. Run it.
//  2. Family match: an existing specialization accepts the arguments under
//     the compiler's overload resolution, or the artifact cache holds a
//     program for the signature. Run it.
//  3. Policy: only novel shapes consult the policy.
//  4. Act: UseCompiled requests compilation, UseEvaluated runs the function
//     body on the evaluator, Reject fails with a DispatchError.
//  5. Verify: a UseCompiled request that produced nothing fails the call.
//  6. Execute inside a compiled_execution or evaluated_execution event.
//
// Steps 1 and 2 never consult the policy.
//
// # Invariants
//
// At most one specialization per signature. Concurrent requests for one
// signature share a single compilation and the store rejects duplicates.
//
// Compilation permission is a field of each compiler request, never state
// shared between calls.
//
// Every execution emits exactly one start and one end event, in that order,
// including when the backend fails. Rejected calls emit nothing.
//
// Thread-safety: Dispatcher is safe for concurrent use.
package dispatch
