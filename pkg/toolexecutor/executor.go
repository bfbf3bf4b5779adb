package toolexecutor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/rlm/internal/observability"
	"github.com/harun/rlm/internal/tracing"
	"github.com/harun/rlm/pkg/repl"
)

// RunPythonTool is the only tool offered to the model
const RunPythonTool = "run_python"

const runPythonDescription = "Execute Python code in a persistent session. Variables, imports and " +
	"functions defined in one call remain available in later calls. Returns the captured stdout " +
	"and stderr of the execution as JSON. Call FINAL(value) to record your final answer and " +
	"AGENT(task, context) to delegate a sub-task to a nested agent."

// Executor runs code against a session
type Executor interface {
	Submit(ctx context.Context, code string) (repl.ExecutionOutcome, error)
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolDefinition defines a tool's metadata
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// ToolSchema is the provider-neutral form of a tool offered to a model
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult answers one ToolCall
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Options configures a Bridge
type Options struct {
	// TruncateLimit caps each output stream in characters; 0 disables truncation
	TruncateLimit int
	Logger        zerolog.Logger
}

// Bridge exposes a session to the model as the run_python tool
type Bridge struct {
	executor   Executor
	limit      int
	logger     zerolog.Logger
	definition ToolDefinition
	schemaMap  map[string]interface{}
	schema     *gojsonschema.Schema
}

type runPythonInput struct {
	Code string `json:"code"`
}

type payload struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// New creates a Bridge over executor
func New(executor Executor, opts Options) (*Bridge, error) {
	if opts.TruncateLimit < 0 {
		return nil, fmt.Errorf("truncate limit cannot be negative: %d", opts.TruncateLimit)
	}

	def := ToolDefinition{
		Name:        RunPythonTool,
		Description: runPythonDescription,
		Parameters: []ToolParameter{
			{
				Name:        "code",
				Type:        "string",
				Description: "Python source to execute as module-level statements",
				Required:    true,
			},
		},
	}

	if err := validateToolDefinition(def); err != nil {
		return nil, fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := generateSchemaMap(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}

	return &Bridge{
		executor:   executor,
		limit:      opts.TruncateLimit,
		logger:     opts.Logger.With().Str("component", "toolexecutor").Logger(),
		definition: def,
		schemaMap:  schemaMap,
		schema:     schema,
	}, nil
}

// Schemas returns the tool list sent to the model
func (b *Bridge) Schemas() []ToolSchema {
	return []ToolSchema{{
		Name:        b.definition.Name,
		Description: b.definition.Description,
		InputSchema: b.schemaMap,
	}}
}

// Execute runs a tool call. Unknown tools and invalid input come back as
// error results; a returned error means the session itself is unusable or
// ctx ended.
func (b *Bridge) Execute(ctx context.Context, call ToolCall) (ToolResult, error) {
	startTime := time.Now()
	logger := tracing.LoggerFromContext(ctx, b.logger).With().
		Str("tool", call.Name).
		Str("tool_use_id", call.ID).
		Logger()

	if call.Name != b.definition.Name {
		logger.Warn().Msg("Tool not found")
		observability.RecordToolExecution(call.Name, time.Since(startTime), false)
		return errorResult(call.ID, fmt.Sprintf("tool not found: %s", call.Name)), nil
	}

	input := call.Input
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}

	if err := validateParameters(b.schema, input); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		observability.RecordToolExecution(call.Name, time.Since(startTime), false)
		return errorResult(call.ID, fmt.Sprintf("parameter validation failed: %v", err)), nil
	}

	var params runPythonInput
	if err := json.Unmarshal(input, &params); err != nil {
		observability.RecordToolExecution(call.Name, time.Since(startTime), false)
		return errorResult(call.ID, fmt.Sprintf("invalid input: %v", err)), nil
	}

	ctx, span := tracing.StartSpan(ctx, "toolexecutor", "tool.execute",
		attribute.String("rlm.tool", call.Name),
		attribute.String("rlm.tool_use_id", call.ID),
	)
	defer span.End()

	logger.Debug().Int("code_length", len(params.Code)).Msg("Executing tool")

	out, err := b.executor.Submit(ctx, params.Code)
	duration := time.Since(startTime)
	if err != nil {
		observability.RecordToolExecution(call.Name, duration, false)
		span.RecordError(err)
		return ToolResult{}, fmt.Errorf("tool %s: %w", call.Name, err)
	}

	stdout, outCut := Truncate(out.Stdout, b.limit)
	stderr, errCut := Truncate(out.Stderr, b.limit)
	if outCut {
		observability.RecordTruncation("stdout")
	}
	if errCut {
		observability.RecordTruncation("stderr")
	}

	content, err := encodePayload(payload{Stdout: stdout, Stderr: stderr})
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to encode tool output: %w", err)
	}

	observability.RecordToolExecution(call.Name, duration, true)
	logger.Debug().
		Dur("duration", duration).
		Int("stdout_length", len(out.Stdout)).
		Int("stderr_length", len(out.Stderr)).
		Bool("truncated", outCut || errCut).
		Msg("Tool execution completed")

	return ToolResult{
		ToolUseID: call.ID,
		Content:   content,
		Truncated: outCut || errCut,
	}, nil
}

func errorResult(id, message string) ToolResult {
	return ToolResult{ToolUseID: id, Content: message, IsError: true}
}

func encodePayload(p payload) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// generateSchemaMap builds the JSON Schema object for a tool's parameters
func generateSchemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// validateParameters validates raw JSON input against a schema
func validateParameters(schema *gojsonschema.Schema, input json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
