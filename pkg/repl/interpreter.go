package repl

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

//go:embed bootstrap.py
var bootstrapSource string

const shutdownGrace = 2 * time.Second

// interpreter is one python process speaking the line protocol
type interpreter struct {
	cmd      *exec.Cmd
	requests *os.File
	replies  *os.File
	enc      *json.Encoder
	dec      *json.Decoder
	version  string

	done     chan struct{}
	waitErr  error
	killOnce sync.Once
}

func launch(cfg Config, logger zerolog.Logger) (*interpreter, error) {
	python, err := exec.LookPath(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterpreterStart, err)
	}

	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterpreterStart, err)
	}
	repR, repW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, fmt.Errorf("%w: %v", ErrInterpreterStart, err)
	}

	cmd := exec.Command(python, "-u", "-c", bootstrapSource)
	cmd.Dir = cfg.WorkDir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, cfg.Env...)
	cmd.ExtraFiles = []*os.File{reqR, repW}
	cmd.Stdout = &strayWriter{logger: logger, stream: "stdout"}
	cmd.Stderr = &strayWriter{logger: logger, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		reqR.Close()
		reqW.Close()
		repR.Close()
		repW.Close()
		return nil, fmt.Errorf("%w: %v", ErrInterpreterStart, err)
	}

	// The child holds its own copies now.
	reqR.Close()
	repW.Close()

	dec := json.NewDecoder(repR)
	dec.UseNumber()

	p := &interpreter{
		cmd:      cmd,
		requests: reqW,
		replies:  repR,
		enc:      json.NewEncoder(reqW),
		dec:      dec,
		done:     make(chan struct{}),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// handshake seeds the namespace and waits for the ready message
func (p *interpreter) handshake(globals map[string]interface{}) error {
	if err := p.send(request{Type: msgInit, Globals: globals}); err != nil {
		return err
	}

	var msg reply
	if err := p.dec.Decode(&msg); err != nil {
		return fmt.Errorf("no handshake from interpreter: %w", err)
	}
	if msg.Type != msgReady {
		return fmt.Errorf("%w: expected %q, got %q", ErrProtocol, msgReady, msg.Type)
	}
	p.version = msg.Version
	return nil
}

func (p *interpreter) send(req interface{}) error {
	return p.enc.Encode(req)
}

func (p *interpreter) kill() {
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// exitStatus waits briefly for the process to end and describes how it ended
func (p *interpreter) exitStatus() string {
	select {
	case <-p.done:
	case <-time.After(shutdownGrace):
		p.kill()
		<-p.done
	}
	if p.waitErr == nil {
		return "exit status 0"
	}
	return p.waitErr.Error()
}

// stop asks the interpreter to leave, killing it after a grace period
func (p *interpreter) stop() {
	_ = p.send(request{Type: msgShutdown})
	p.requests.Close()

	select {
	case <-p.done:
	case <-time.After(shutdownGrace):
		p.kill()
		<-p.done
	}
	p.replies.Close()
}

// strayWriter receives what the interpreter writes to fds 1 and 2 between
// submissions. During a submission those fds point at capture files.
type strayWriter struct {
	logger zerolog.Logger
	stream string
}

func (w *strayWriter) Write(p []byte) (int, error) {
	w.logger.Debug().
		Str("stream", w.stream).
		Str("output", string(p)).
		Msg("Interpreter output outside a submission")
	return len(p), nil
}
