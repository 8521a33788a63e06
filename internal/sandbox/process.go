package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/shared/id"
)

// Process spawns every context as a separate worker process speaking the
// protocol as JSON lines over stdin/stdout. The worker gets an empty
// environment and no inherited descriptors besides its pipes.
type Process struct {
	command []string
	config  Config
	logger  *zap.Logger
}

// NewProcess creates a subprocess spawner. command is the worker argv; when
// empty the current executable is re-run with the "worker" subcommand.
func NewProcess(command []string, config Config, logger *zap.Logger) (*Process, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(command) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve worker executable: %w", err)
		}
		command = []string{self, "worker"}
	}
	return &Process{command: command, config: config, logger: logger}, nil
}

// Spawn starts a worker process
func (p *Process) Spawn(ctx context.Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string(nil), p.command[1:]...), workerArgs(p.config)...)
	// The process lifetime is bound to Close, not to the spawn context
	cmd := exec.Command(p.command[0], args...)
	cmd.Env = []string{}
	cmd.Stderr = zap.NewStdLog(p.logger.Named("worker")).Writer()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	c := &processContext{
		id:       id.NewContextID().String(),
		cmd:      cmd,
		stdin:    stdin,
		enc:      NewEncoder(stdin),
		out:      make(chan Message, outboxSize),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		logger:   p.logger,
	}
	go c.readLoop(NewDecoder(stdout))

	p.logger.Debug("Spawned sandbox worker",
		zap.String("context_id", c.id),
		zap.Int("pid", cmd.Process.Pid),
	)
	return c, nil
}

// workerArgs forwards the sandbox configuration to the worker command line
func workerArgs(config Config) []string {
	return []string{
		"--max-call-stack", strconv.Itoa(config.MaxCallStackSize),
		"--console=" + strconv.FormatBool(config.EnableConsole),
		"--timers=" + strconv.FormatBool(config.EnableTimers),
	}
}

type processContext struct {
	id       string
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	enc      *Encoder
	out      chan Message
	done     chan struct{}
	readDone chan struct{}
	logger   *zap.Logger

	closeOnce sync.Once
}

func (c *processContext) ID() string               { return c.id }
func (c *processContext) Messages() <-chan Message { return c.out }

func (c *processContext) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to write to worker: %w", err)
	}
	return nil
}

func (c *processContext) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.stdin.Close()
		if c.cmd.Process != nil {
			if kerr := c.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = fmt.Errorf("failed to kill worker: %w", kerr)
			}
		}
		// All reads must finish before Wait closes the pipe. Exit status
		// after a kill is expected to be non-zero.
		<-c.readDone
		_ = c.cmd.Wait()
	})
	return err
}

func (c *processContext) readLoop(dec *Decoder) {
	defer close(c.readDone)
	defer close(c.out)
	for {
		msg, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("Worker stream ended", zap.String("context_id", c.id), zap.Error(err))
			}
			return
		}
		select {
		case c.out <- msg:
		case <-c.done:
			return
		}
	}
}

// Serve runs the context side of the protocol on r/w. It is the body of
// the worker subcommand and returns after one execution.
func Serve(ctx context.Context, r io.Reader, w io.Writer, config Config) error {
	dec := NewDecoder(r)
	enc := NewEncoder(w)

	var writeErr error
	emit := func(msg Message) {
		if writeErr != nil {
			return
		}
		writeErr = enc.Encode(msg)
	}

	if err := serve(ctx, config, dec.Decode, emit); err != nil {
		return err
	}
	return writeErr
}
