package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/rlm/internal/tracing"
	"github.com/harun/rlm/pkg/agent"
	"github.com/harun/rlm/pkg/outcome"
)

// Kind is the type of a transcript entry
type Kind string

const (
	KindTurn    Kind = "turn"
	KindOutcome Kind = "outcome"
)

// Entry is one line of a transcript file
type Entry struct {
	TraceID     string           `json:"trace_id"`
	RunID       string           `json:"run_id"`
	ParentRunID string           `json:"parent_run_id,omitempty"`
	Depth       int              `json:"depth"`
	Kind        Kind             `json:"kind"`
	Timestamp   time.Time        `json:"timestamp"`
	Turn        *agent.Turn      `json:"turn,omitempty"`
	Outcome     *outcome.Outcome `json:"outcome,omitempty"`
}

// Recorder appends the turns and outcomes of every agent in a run tree to
// one JSONL file per trace
type Recorder struct {
	dir        string
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Recorder writing under dir
func New(dir string, logger zerolog.Logger) (*Recorder, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".rlm", "transcripts")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	return &Recorder{
		dir:        dir,
		logger:     logger.With().Str("component", "transcript").Logger(),
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the transcript directory
func (r *Recorder) Dir() string {
	return r.dir
}

// Path returns the file of a trace
func (r *Recorder) Path(traceID string) string {
	return filepath.Join(r.dir, traceID+".jsonl")
}

// RecordTurn appends a conversation turn
func (r *Recorder) RecordTurn(ctx context.Context, turn agent.Turn) error {
	return r.append(ctx, Entry{Kind: KindTurn, Turn: &turn})
}

// RecordOutcome appends the outcome of an agent run
func (r *Recorder) RecordOutcome(ctx context.Context, o outcome.Outcome) error {
	return r.append(ctx, Entry{Kind: KindOutcome, Outcome: &o})
}

func (r *Recorder) append(ctx context.Context, entry Entry) error {
	tc := tracing.FromContext(ctx)
	entry.TraceID = tc.TraceID
	entry.RunID = tc.RunID
	entry.ParentRunID = tc.ParentRunID
	entry.Depth = tc.Depth
	entry.Timestamp = time.Now().UTC()

	ctx, span := tracing.StartSpan(ctx, "rlm.transcript", "transcript.append",
		attribute.String("rlm.kind", string(entry.Kind)),
	)
	defer span.End()

	if err := validateTraceID(entry.TraceID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	lock := r.getWriteLock(entry.TraceID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(r.Path(entry.TraceID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write entry: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Debug().
		Str("kind", string(entry.Kind)).
		Msg("Transcript entry appended")

	return nil
}

// Load reads every entry of a trace, skipping lines that do not parse
func (r *Recorder) Load(traceID string) ([]Entry, error) {
	if err := validateTraceID(traceID); err != nil {
		return nil, err
	}

	file, err := os.Open(r.Path(traceID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			r.logger.Warn().
				Str("traceId", traceID).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	return entries, nil
}

// List returns the trace ids with a transcript, sorted
func (r *Recorder) List() ([]string, error) {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	traces := []string{}
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		traces = append(traces, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	sort.Strings(traces)
	return traces, nil
}

func (r *Recorder) getWriteLock(traceID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	if lock, exists := r.writeLocks[traceID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	r.writeLocks[traceID] = lock
	return lock
}

// validateTraceID keeps trace ids path-safe
func validateTraceID(traceID string) error {
	if traceID == "" {
		return fmt.Errorf("trace id cannot be empty")
	}
	if strings.Contains(traceID, "..") {
		return fmt.Errorf("trace id cannot contain '..'")
	}
	if strings.ContainsAny(traceID, "/\\\x00") {
		return fmt.Errorf("trace id cannot contain path separators or null bytes")
	}
	return nil
}
