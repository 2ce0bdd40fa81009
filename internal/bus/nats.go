// ABOUTME: NATS-backed Bus so several gateway processes can share one agent pool
// ABOUTME: Inbound uses a queue group, outbound fans out to every gateway

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// agentQueue is the queue group inbound consumers join so each message is
// handled by exactly one agent.
const agentQueue = "chatgate-agents"

// Connect dials a NATS server with reconnect handling and logging.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}

	logger.Info("connected to nats", "url", nc.ConnectedUrl())
	return nc, nil
}

// NATSBus is a Bus over NATS core subjects "<prefix>.inbound" and
// "<prefix>.outbound".
type NATSBus struct {
	nc       *nats.Conn
	ownsConn bool
	prefix   string
	logger   *slog.Logger

	inSub  *nats.Subscription
	outSub *nats.Subscription
	inCh   chan *nats.Msg
	outCh  chan *nats.Msg

	done      chan struct{}
	closeOnce sync.Once
}

// NATSOptions configures NewNATS.
type NATSOptions struct {
	// SubjectPrefix namespaces the bus subjects. Defaults to "chatgate".
	SubjectPrefix string
	// Buffer is the per-direction pending message buffer.
	Buffer int
	// OwnsConn closes nc when the bus is closed.
	OwnsConn bool
	Logger   *slog.Logger
}

// NewNATS subscribes to the bus subjects on nc.
func NewNATS(nc *nats.Conn, opts NATSOptions) (*NATSBus, error) {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "chatgate"
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &NATSBus{
		nc:       nc,
		ownsConn: opts.OwnsConn,
		prefix:   opts.SubjectPrefix,
		logger:   opts.Logger.With("component", "bus"),
		inCh:     make(chan *nats.Msg, opts.Buffer),
		outCh:    make(chan *nats.Msg, opts.Buffer),
		done:     make(chan struct{}),
	}

	var err error
	b.inSub, err = nc.ChanQueueSubscribe(b.inboundSubject(), agentQueue, b.inCh)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", b.inboundSubject(), err)
	}
	b.outSub, err = nc.ChanSubscribe(b.outboundSubject(), b.outCh)
	if err != nil {
		_ = b.inSub.Unsubscribe()
		return nil, fmt.Errorf("subscribing to %s: %w", b.outboundSubject(), err)
	}
	// Make sure the server has registered both subscriptions before anyone publishes.
	if err := nc.Flush(); err != nil {
		_ = b.inSub.Unsubscribe()
		_ = b.outSub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscriptions: %w", err)
	}

	b.logger.Info("nats bus ready", "inbound", b.inboundSubject(), "outbound", b.outboundSubject())
	return b, nil
}

func (b *NATSBus) inboundSubject() string  { return b.prefix + ".inbound" }
func (b *NATSBus) outboundSubject() string { return b.prefix + ".outbound" }

func (b *NATSBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	return b.publish(ctx, b.inboundSubject(), msg)
}

func (b *NATSBus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	var msg InboundMessage
	err := b.consume(ctx, b.inCh, &msg)
	return msg, err
}

func (b *NATSBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	return b.publish(ctx, b.outboundSubject(), msg)
}

func (b *NATSBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	var msg OutboundMessage
	err := b.consume(ctx, b.outCh, &msg)
	return msg, err
}

func (b *NATSBus) publish(ctx context.Context, subject string, v any) error {
	select {
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding bus message: %w", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) consume(ctx context.Context, ch <-chan *nats.Msg, v any) error {
	for {
		select {
		case m := <-ch:
			if err := json.Unmarshal(m.Data, v); err != nil {
				b.logger.Warn("dropping undecodable bus message", "subject", m.Subject, "error", err)
				continue
			}
			return nil
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close unsubscribes and, when the bus owns it, closes the NATS connection.
func (b *NATSBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		_ = b.inSub.Unsubscribe()
		_ = b.outSub.Unsubscribe()
		if b.ownsConn {
			b.nc.Close()
		}
	})
	return nil
}
