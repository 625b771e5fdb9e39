package notify

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"skipline/internal/store"

	"github.com/google/uuid"
)

var (
	sentTotal    = expvar.NewInt("notifications_sent_total")
	failedTotal  = expvar.NewInt("notifications_failed_total")
	droppedTotal = expvar.NewInt("notifications_dropped_total")
)

// Channel is one delivery transport. An empty recipient means the event does
// not apply to this channel and is skipped.
type Channel interface {
	Name() string
	Recipient(ctx context.Context, event Event) (string, error)
	Send(ctx context.Context, event Event, recipient string) error
}

type Options struct {
	Workers     int
	Buffer      int
	SendTimeout time.Duration
	DeliveryLog store.DeliveryLog
	Logger      *slog.Logger
}

// Dispatcher buffers events and delivers them on background workers. Emit
// never blocks: when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	channels []Channel
	log      store.DeliveryLog
	logger   *slog.Logger
	timeout  time.Duration
	workers  int

	events chan Event
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewDispatcher(channels []Channel, opts Options) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 2
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels: channels,
		log:      opts.DeliveryLog,
		logger:   logger,
		timeout:  timeout,
		workers:  workers,
		events:   make(chan Event, buffer),
	}
}

// Start launches the delivery workers. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.events {
		d.Deliver(context.Background(), event)
	}
}

func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		droppedTotal.Add(1)
		d.logger.Warn("notify drop after close", "event_id", event.EventID, "kind", event.Kind)
		return
	}
	select {
	case d.events <- event:
	default:
		droppedTotal.Add(1)
		d.logger.Warn("notify buffer full, drop event", "event_id", event.EventID, "kind", event.Kind, "entry_id", event.EntryID)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	d.wg.Wait()
}

// Deliver sends event on every channel in turn. A failing channel is logged
// and does not stop the others.
func (d *Dispatcher) Deliver(ctx context.Context, event Event) {
	for _, channel := range d.channels {
		d.deliverOne(ctx, channel, event)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, channel Channel, event Event) {
	logger := d.logger.With("event_id", event.EventID, "kind", event.Kind, "channel", channel.Name(), "entry_id", event.EntryID)

	recipient, err := channel.Recipient(ctx, event)
	if err != nil {
		failedTotal.Add(1)
		logger.Error("notify resolve recipient", "error", err)
		return
	}
	if recipient == "" {
		return
	}

	notificationID := uuid.NewString()
	if d.log != nil {
		err := d.log.InsertNotification(ctx, store.Notification{
			NotificationID: notificationID,
			EntryID:        event.EntryID,
			EventType:      event.Kind,
			Channel:        channel.Name(),
			Recipient:      recipient,
			Status:         "pending",
		})
		if err != nil {
			logger.Error("notify record delivery", "error", err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err = safeSend(sendCtx, channel, event, recipient)
	cancel()

	if err != nil {
		failedTotal.Add(1)
		logger.Error("notify send failed", "recipient", recipient, "error", err)
		if d.log != nil {
			if err := d.log.MarkNotificationFailed(ctx, notificationID, err.Error()); err != nil {
				logger.Error("notify mark failed", "error", err)
			}
		}
		return
	}
	sentTotal.Add(1)
	if d.log != nil {
		if err := d.log.MarkNotificationSent(ctx, notificationID); err != nil {
			logger.Error("notify mark sent", "error", err)
		}
	}
}

func safeSend(ctx context.Context, channel Channel, event Event, recipient string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panic: %v", channel.Name(), r)
		}
	}()
	return channel.Send(ctx, event, recipient)
}
