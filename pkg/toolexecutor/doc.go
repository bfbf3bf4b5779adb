// Package toolexecutor exposes an execution session to the model as the
// run_python tool.
//
// Invariants:
//   - Every ToolCall yields exactly one ToolResult carrying the call's id.
//   - Input is schema-validated before any code runs.
//   - stdout and stderr are truncated independently.
//
// Usage:
//
//	bridge, _ := toolexecutor.New(session, toolexecutor.Options{TruncateLimit: 10000})
//	res, _ := bridge.Execute(ctx, toolexecutor.ToolCall{ID: "toolu_1", Name: "run_python", Input: []byte(`{"code":"print(1)"}`)})
//	_ = res.Content // {"stdout":"1\n","stderr":""}
package toolexecutor
