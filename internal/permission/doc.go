// Package permission is the policy half of the tool-approval story: it
// answers "allow, deny, or ask" for a tool call before any approval
// protocol runs. The protocol half (request events, waiting, timeout)
// lives in internal/approval.
//
// # Evaluation
//
// Policy.Evaluate combines, in priority order:
//
//  1. The tool's read-only annotation: read-only tools never gate.
//  2. The acting profile's configured action for the tool (deny wins
//     over everything below).
//  3. Doom-loop detection: a third identical call (same tool, same
//     arguments) within one turn forces a fresh ask even when the call
//     would otherwise be allowed.
//  4. The session allow-list built up by allow-session decisions.
//
// Anything not resolved above is an ask, which the caller routes to the
// approval coordinator.
//
// # Session scope
//
// Allow-session state is process-local and dies with the process. A
// restarted runtime re-asks.
//
// # Bash commands
//
// Shell commands get finer-grained treatment than a single yes/no: the
// command string is parsed (pipes, && chains, subshells included) and
// each resulting command is matched against the profile's bash
// patterns ("git commit *", "rm *", "*"). Commands that modify the
// filesystem additionally have their path arguments resolved and
// checked against the working directory.
package permission
