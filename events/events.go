// Package events publishes notification events to an external delivery
// collaborator (mail/SMS workers) without a synchronous dependency on it.
//
// Publication is fire-and-forget: the dispatcher buffers events on a channel
// and a single goroutine forwards them to the configured sink. When the buffer
// is full the event is dropped and counted, so authentication flows never block
// on notification delivery.
package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

// Event types understood by the notification collaborator.
const (
	TypeWelcome       = "welcome"
	TypeOTP           = "otp"
	TypePasswordReset = "password_reset"
)

// Channels an event can be delivered over.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Event is one outbound notification. Exactly one of Email/Phone is set,
// matching Channel.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Channel   string    `json:"channel"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	OTP       string    `json:"otp,omitempty"`
	ResetURL  string    `json:"resetUrl,omitempty"`
	UserName  string    `json:"userName,omitempty"`
}

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Publish(context.Context, Event) {}

// ChannelSink writes events into a buffered channel, for consumers that bridge
// to a message bus.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Publish(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Publish(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// Config controls dispatcher buffering behavior.
type Config struct {
	BufferSize int
}

// Dispatcher asynchronously forwards events to a sink.
type Dispatcher struct {
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the forwarding goroutine. A nil sink falls back to
// NoOpSink.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Publish(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Publish(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Publish enqueues an event, stamping ID and Timestamp when unset. Full buffer
// drops the event and increments the drop counter; Publish never blocks.
func (d *Dispatcher) Publish(event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if event.ID == "" {
		event.ID = xid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close drains buffered events into the sink and stops the dispatcher.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
