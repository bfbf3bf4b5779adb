// Package transcript keeps an audit log of agent runs as JSONL files.
//
// Invariants:
//   - One file per trace; the root agent and all nested agents share it.
//   - Every entry carries the run id, parent run id and depth of its agent.
//   - Writes to the same file are serialized.
//
// Usage:
//
//	rec, _ := transcript.New("/tmp/rlm/transcripts", logger)
//	d, _ := subagent.NewDelegator(subagent.Config{Recorder: rec, ...})
//	entries, _ := rec.Load(traceID)
package transcript
