package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/nodekeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodekeeper/internal/node"
)

const (
	defaultBufferSize = 256

	// commandTimeout bounds a remote spawn, which includes the readiness wait.
	commandTimeout = 30 * time.Second
)

// ErrUnknownAction is reported in the ack for an unrecognised action.
var ErrUnknownAction = errors.New("unknown action")

// Bus is the subset of *mqtt.Client the bridge needs.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Controller is the node the bridge drives. *node.Supervisor satisfies it.
type Controller interface {
	Name() string
	Spawn(ctx context.Context) error
	Kill() error
	Status() node.Status
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Bridge.
type Options struct {
	Bus        Bus
	Controller Controller
	QoS        byte
	BufferSize int
}

// Bridge mirrors node events and status onto MQTT and executes commands
// received from it.
//
// HandleEvent and the MQTT message handler only enqueue; Run does the
// publishing and command execution.
type Bridge struct {
	bus    Bus
	ctl    Controller
	qos    byte
	topics mqtt.Topics

	events   chan node.Event
	commands chan []byte
	logger   Logger
}

// NewBridge creates a bridge. Bus and Controller are required.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, errors.New("remote: bus is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("remote: controller is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("remote: invalid qos %d", opts.QoS)
	}

	return &Bridge{
		bus:      opts.Bus,
		ctl:      opts.Controller,
		qos:      opts.QoS,
		events:   make(chan node.Event, opts.BufferSize),
		commands: make(chan []byte, opts.BufferSize),
		logger:   noopLogger{},
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to the node's command topic and publishes the current
// status.
func (b *Bridge) Start() error {
	topic := b.topics.NodeCommand(b.ctl.Name())
	if err := b.bus.Subscribe(topic, b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	b.logger.Info("remote control enabled", "topic", topic)

	b.publishStatus()
	return nil
}

// Stop unsubscribes from the command topic.
func (b *Bridge) Stop() error {
	return b.bus.Unsubscribe(b.topics.NodeCommand(b.ctl.Name()))
}

// HandleEvent queues ev for publishing. It is a node.EventHandler.
func (b *Bridge) HandleEvent(ev node.Event) {
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("mqtt event queue full, dropping event", "type", ev.Type)
	}
}

// handleMessage runs on the broker delivery goroutine.
func (b *Bridge) handleMessage(_ string, payload []byte) error {
	select {
	case b.commands <- payload:
		return nil
	default:
		return errors.New("remote: command queue full, dropping command")
	}
}

// Run publishes events and executes commands until ctx is cancelled.
// Commands run on their own goroutine so a slow spawn does not hold up
// event delivery.
func (b *Bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case ev := <-b.events:
				b.publishEvent(ev)
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case payload := <-b.commands:
				b.execute(ctx, payload)
			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

func (b *Bridge) publishEvent(ev node.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("encoding event", "type", ev.Type, "error", err)
		return
	}
	if err := b.bus.Publish(b.topics.NodeEvents(b.ctl.Name()), payload, b.qos, false); err != nil {
		b.logger.Warn("publishing event", "type", ev.Type, "error", err)
		return
	}
	b.publishStatus()
}

func (b *Bridge) publishStatus() {
	payload, err := json.Marshal(b.ctl.Status())
	if err != nil {
		b.logger.Warn("encoding status", "error", err)
		return
	}
	if err := b.bus.Publish(b.topics.NodeStatus(b.ctl.Name()), payload, b.qos, true); err != nil {
		b.logger.Warn("publishing status", "error", err)
	}
}

func (b *Bridge) execute(ctx context.Context, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command payload", "error", err)
		b.publishAck(newAck(cmd, fmt.Errorf("invalid payload: %w", err)))
		return
	}

	b.logger.Info("received command", "id", cmd.ID, "action", cmd.Action)

	var err error
	switch cmd.Action {
	case ActionSpawn:
		spawnCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		err = b.ctl.Spawn(spawnCtx)
		cancel()
	case ActionKill:
		err = b.ctl.Kill()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	if err != nil {
		b.logger.Warn("command failed", "id", cmd.ID, "action", cmd.Action, "error", err)
	}
	b.publishAck(newAck(cmd, err))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Warn("encoding ack", "error", err)
		return
	}
	if err := b.bus.Publish(b.topics.NodeAck(b.ctl.Name()), payload, b.qos, false); err != nil {
		b.logger.Warn("publishing ack", "id", ack.ID, "error", err)
	}
}
