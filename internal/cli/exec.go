package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/rlm/pkg/repl"
	"github.com/harun/rlm/pkg/toolexecutor"
)

var execCmd = &cobra.Command{
	Use:   "exec [code|-]",
	Short: "Execute Python in a fresh session without a model",
	Long: `Execute Python code in a fresh session and print what it wrote.
Reads the code from stdin when the argument is "-" or missing. FINAL is
available; AGENT returns a failed result since no model is attached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

var (
	execJSON     bool
	execTruncate int
)

func init() {
	execCmd.Flags().BoolVar(&execJSON, "json", false, "print the run_python tool payload instead of raw output")
	execCmd.Flags().IntVar(&execTruncate, "truncate", 0, "tool output limit in characters for --json, 0 disables")

	rootCmd.AddCommand(execCmd)
}

func readCode(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read code from stdin: %w", err)
	}
	return string(data), nil
}

func runExec(cmd *cobra.Command, args []string) error {
	code, err := readCode(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := repl.New(ctx, repl.Config{
		PythonPath: cfg.Session.PythonPath,
		WorkDir:    cfg.Session.WorkDir,
		Env:        cfg.Session.Env,
		Logger:     log.GetZerolog(),
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if execJSON {
		return execPayload(ctx, cmd, session, code)
	}

	result, err := session.Submit(ctx, code)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)

	if value, ok := session.Final(); ok {
		data, err := json.Marshal(value)
		if err != nil {
			data = []byte(fmt.Sprintf("%v", value))
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "FINAL: %s\n", data)
	}
	return nil
}

// execPayload runs code through the run_python tool and prints the payload
// the model would have received
func execPayload(ctx context.Context, cmd *cobra.Command, session *repl.Session, code string) error {
	bridge, err := toolexecutor.New(session, toolexecutor.Options{TruncateLimit: execTruncate})
	if err != nil {
		return err
	}

	input, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return err
	}

	result, err := bridge.Execute(ctx, toolexecutor.ToolCall{
		ID:    "exec",
		Name:  toolexecutor.RunPythonTool,
		Input: input,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Content)
	return nil
}
