package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harun/rlm/pkg/agent"
	"github.com/harun/rlm/pkg/toolexecutor"
	"github.com/harun/rlm/pkg/transcript"
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Inspect recorded run transcripts",
}

var transcriptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the trace ids with a transcript",
	Args:  cobra.NoArgs,
	RunE:  runTranscriptList,
}

var transcriptShowCmd = &cobra.Command{
	Use:   "show <trace-id>",
	Short: "Print the transcript of one run tree",
	Long: `Print every turn and outcome recorded for a trace, root and sub-agents
interleaved in the order they were written. Use --json for the raw entries.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscriptShow,
}

var (
	transcriptDir  string
	transcriptJSON bool
)

func init() {
	transcriptCmd.PersistentFlags().StringVar(&transcriptDir, "dir", "", "transcript directory (default from config)")
	transcriptShowCmd.Flags().BoolVar(&transcriptJSON, "json", false, "print raw JSON lines")

	transcriptCmd.AddCommand(transcriptListCmd)
	transcriptCmd.AddCommand(transcriptShowCmd)
	rootCmd.AddCommand(transcriptCmd)
}

// openTranscripts opens the recorder over the configured transcript directory
func openTranscripts() (*transcript.Recorder, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if transcriptDir != "" {
		cfg.Transcript.Dir = transcriptDir
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	rec, err := transcript.New(cfg.Transcript.Dir, log.GetZerolog())
	if err != nil {
		log.Close()
		return nil, nil, err
	}
	return rec, func() { log.Close() }, nil
}

func runTranscriptList(cmd *cobra.Command, args []string) error {
	rec, closeLog, err := openTranscripts()
	if err != nil {
		return err
	}
	defer closeLog()

	traces, err := rec.List()
	if err != nil {
		return err
	}
	if len(traces) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No transcripts in %s\n", rec.Dir())
		return nil
	}
	for _, id := range traces {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runTranscriptShow(cmd *cobra.Command, args []string) error {
	rec, closeLog, err := openTranscripts()
	if err != nil {
		return err
	}
	defer closeLog()

	entries, err := rec.Load(args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no transcript for trace %s in %s", args[0], rec.Dir())
	}

	out := cmd.OutOrStdout()
	if transcriptJSON {
		enc := json.NewEncoder(out)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("failed to encode entry: %w", err)
			}
		}
		return nil
	}

	printer := newConsolePrinter(out)
	for _, e := range entries {
		printEntry(out, printer, e)
	}
	return nil
}

// printEntry renders a transcript entry in the same layout a live run prints
func printEntry(out io.Writer, printer *consolePrinter, e transcript.Entry) {
	prefix := depthPrefix(e.Depth)

	switch e.Kind {
	case transcript.KindOutcome:
		if e.Outcome == nil {
			return
		}
		if e.Outcome.IsCompleted() {
			fmt.Fprintf(out, "%sFinal answer:\n%s\n\n", prefix, e.Outcome.Display())
		} else {
			fmt.Fprintf(out, "%sFailed:\n%s\n\n", prefix, e.Outcome.Display())
		}
	case transcript.KindTurn:
		if e.Turn == nil {
			return
		}
		for _, b := range e.Turn.Blocks {
			event := agent.Event{Depth: e.Depth}
			switch b.Type {
			case agent.BlockText:
				if e.Turn.Role == agent.RoleUser {
					fmt.Fprintf(out, "%sTask:\n%s\n\n", prefix, b.Text)
					continue
				}
				event.Type, event.Text = agent.EventText, b.Text
			case agent.BlockThinking:
				event.Type, event.Text = agent.EventThinking, b.Thinking
			case agent.BlockToolUse:
				event.Type = agent.EventToolCall
				event.ToolCall = &toolexecutor.ToolCall{ID: b.ID, Name: b.Name, Input: b.Input}
			case agent.BlockToolResult:
				event.Type = agent.EventToolResult
				event.ToolResult = &toolexecutor.ToolResult{ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError}
			default:
				continue
			}
			printer.handle(event)
		}
	}
}
