// Package agent drives a language model through rounds of tool calls against
// a persistent execution session until it records a final answer.
//
// Invariants:
//   - The conversation is append-only; every tool_use block is answered by a
//     tool_result with the same id in the next turn.
//   - All tool results of one round share a single user turn, in call order.
//   - A round that sets the session's final value ends the run as completed,
//     a round without any tool call ends it as failed.
//   - Provider errors are returned to the caller, never turned into outcomes.
//
// Usage:
//
//	loop, _ := agent.NewLoop(agent.Config{
//		Provider:     provider,
//		Session:      session,
//		Model:        "claude-sonnet-4-5",
//		SystemPrompt: agent.RootSystemPrompt,
//	})
//	result, err := loop.Run(ctx, "Calculate 500 times 100")
package agent
