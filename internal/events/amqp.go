package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"fastbudget/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
	heartbeat      = 10 * time.Second
	maxBackoff     = 30 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// AMQPPublisher sends events to a durable topic exchange using the event type
// as routing key. The connection is opened lazily and re-opened after
// connection errors; repeated failures open the circuit for openTimeout.
// Dialing and publishing never outlive the caller's context.
type AMQPPublisher struct {
	url          string
	exchangeName string
	logger       *log.Logger
	dial         func(ctx context.Context, url string) (*amqp091.Connection, error)

	// sem guards conn, channel and closed. It is a channel so that waiting
	// for it can be abandoned when the caller's context ends.
	sem     chan struct{}
	conn    *amqp091.Connection
	channel *amqp091.Channel
	closed  bool

	state        int32
	failureCount int64
	lastFailure  atomic.Int64 // unix nanos
}

func NewAMQPPublisher(url, exchangeName string, logger *log.Logger) *AMQPPublisher {
	if logger == nil {
		logger = log.Discard()
	}
	return &AMQPPublisher{
		url:          url,
		exchangeName: exchangeName,
		logger:       logger.WithComponent(log.ComponentEvents),
		dial:         dialContext,
		sem:          make(chan struct{}, 1),
	}
}

// dialContext opens a connection whose TCP dial and AMQP handshake are bounded
// by ctx. amqp091 clears the deadline once the handshake completes.
func dialContext(ctx context.Context, url string) (*amqp091.Connection, error) {
	return amqp091.DialConfig(url, amqp091.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			deadline, ok := ctx.Deadline()
			if !ok {
				deadline = time.Now().Add(connectTimeout)
			}
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

func (p *AMQPPublisher) lock(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AMQPPublisher) unlock() { <-p.sem }

// Connect dials the broker with exponential backoff until it succeeds,
// attempts run out, or ctx ends.
func (p *AMQPPublisher) Connect(ctx context.Context, attempts int) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = p.lock(ctx); err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = p.ensureChannelLocked(attemptCtx)
		cancel()
		p.unlock()
		if err == nil {
			p.logger.InfoContext(ctx, "Connected to AMQP broker", "exchange", p.exchangeName)
			return nil
		}

		wait := exponentialBackoff(attempt)
		p.logger.WarnContext(ctx, "AMQP connection failed, retrying",
			log.FieldError, err,
			"attempt", attempt+1,
			"retry_in", wait.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("connect to AMQP after %d attempts: %w", attempts, err)
}

func (p *AMQPPublisher) ensureChannelLocked(ctx context.Context) error {
	if p.closed {
		return errors.New("publisher closed")
	}
	if p.channel != nil && !p.channel.IsClosed() {
		return nil
	}
	p.resetLocked()

	conn, err := p.dial(ctx, p.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		p.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = channel
	return nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isCircuitOpen() {
		return fmt.Errorf("publish %s: %w", e.Type, ErrCircuitOpen)
	}

	body, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.lock(ctx); err != nil {
		return err
	}
	defer p.unlock()

	if err := p.ensureChannelLocked(ctx); err != nil {
		p.recordFailure()
		return err
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchangeName, // exchange
		string(e.Type), // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    e.Timestamp,
			Type:         string(e.Type),
			Body:         body,
		},
	)
	if err != nil {
		p.recordFailure()
		if isConnectionError(err) {
			p.resetLocked()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	p.recordSuccess()

	p.logger.DebugContext(ctx, "Published session event",
		log.FieldEvent, string(e.Type),
		log.FieldClientID, e.ClientID,
		"exchange", p.exchangeName)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.sem <- struct{}{}
	defer p.unlock()
	p.closed = true
	var err error
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}

func (p *AMQPPublisher) isCircuitOpen() bool {
	switch atomic.LoadInt32(&p.state) {
	case StateOpen:
		last := time.Unix(0, p.lastFailure.Load())
		if time.Since(last) > openTimeout {
			atomic.CompareAndSwapInt32(&p.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (p *AMQPPublisher) recordSuccess() {
	atomic.StoreInt64(&p.failureCount, 0)
	atomic.StoreInt32(&p.state, StateClosed)
}

func (p *AMQPPublisher) recordFailure() {
	p.lastFailure.Store(time.Now().UnixNano())
	n := atomic.AddInt64(&p.failureCount, 1)
	if n >= maxFailures || atomic.LoadInt32(&p.state) == StateHalfOpen {
		if atomic.SwapInt32(&p.state, StateOpen) != StateOpen {
			p.logger.Warn("AMQP circuit opened", "failures", n)
		}
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
