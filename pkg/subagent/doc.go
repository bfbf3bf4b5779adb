// Package subagent runs the root agent and the nested agents started by AGENT
// calls from inside executing code.
//
// Every nested agent gets a new session and conversation, the sub-agent
// system prompt, and its caller's context bound as the variable context.
// Its outcome is handed back unchanged to the calling code. Runs are tracked
// in an in-memory Coordinator.
package subagent
