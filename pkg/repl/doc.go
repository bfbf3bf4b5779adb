// Package repl runs model-written Python code in a persistent interpreter.
//
// Invariants:
//   - A Session owns exactly one interpreter process; names defined by one
//     submission are visible to every later submission.
//   - Output written during a submission (Python-level and fd-level) is captured
//     for that submission only and returned, never forwarded to the host console.
//   - Exceptions, SystemExit and interpreter crashes are contained: Submit
//     reports them as stderr text and the session stays usable.
//   - FINAL and AGENT are bound into the namespace; FINAL fills the session's
//     final-result slot (last call wins), AGENT calls back into Go synchronously.
//
// Code runs with the full privileges of the host process; no isolation is applied.
//
// Usage:
//
//	s, _ := repl.New(ctx, repl.Config{Logger: logger})
//	defer s.Close()
//	out, _ := s.Submit(ctx, "x = 500 * 100\nprint(x)")
//	_ = out.Stdout // "50000\n"
package repl
