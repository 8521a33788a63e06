package sandbox

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/shared/id"
)

// outboxSize bounds how far a context can run ahead of the host
const outboxSize = 256

// InProcess spawns contexts as goja runtimes owned by a dedicated
// goroutine. Nothing is shared with the host except the message channels.
type InProcess struct {
	config Config
	logger *zap.Logger
}

// NewInProcess creates an in-process spawner
func NewInProcess(config Config, logger *zap.Logger) *InProcess {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InProcess{config: config, logger: logger}
}

// Spawn starts a fresh context
func (s *InProcess) Spawn(ctx context.Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &localContext{
		id:     id.NewContextID().String(),
		out:    make(chan Message, outboxSize),
		in:     make(chan Message, 1),
		ctx:    runCtx,
		cancel: cancel,
		logger: s.logger,
	}

	go c.loop(s.config)
	return c, nil
}

type localContext struct {
	id     string
	out    chan Message
	in     chan Message
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	closeOnce sync.Once
}

func (c *localContext) ID() string               { return c.id }
func (c *localContext) Messages() <-chan Message { return c.out }

func (c *localContext) Send(msg Message) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case c.in <- msg:
		return nil
	default:
		return ErrBusy
	}
}

func (c *localContext) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

func (c *localContext) loop(config Config) {
	defer close(c.out)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Sandbox context panicked",
				zap.String("context_id", c.id),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	recv := func() (Message, error) {
		select {
		case msg := <-c.in:
			return msg, nil
		case <-c.ctx.Done():
			return Message{}, c.ctx.Err()
		}
	}
	emit := func(msg Message) {
		select {
		case c.out <- msg:
		case <-c.ctx.Done():
		}
	}

	if err := serve(c.ctx, config, recv, emit); err != nil {
		c.logger.Debug("Sandbox context stopped", zap.String("context_id", c.id), zap.Error(err))
	}
}
