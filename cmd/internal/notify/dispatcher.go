package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"haven/cmd/internal/directory"
	"haven/cmd/internal/telemetry"
)

// Config sizes the dispatcher.
type Config struct {
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	return c
}

type job struct {
	userID   string
	event    Event
	channels []Channel
}

// Dispatcher fans one Notify call out to the requested channels on a
// bounded worker pool.
type Dispatcher struct {
	log        *slog.Logger
	dir        directory.Directory
	transports map[Channel]Transport
	metrics    *telemetry.Metrics
	cfg        Config

	queue chan job

	mu      sync.RWMutex
	stopped bool
}

var _ Notifier = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records channel outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher constructs a Dispatcher. Later transports for the same
// channel replace earlier ones.
func NewDispatcher(log *slog.Logger, dir directory.Directory, cfg Config, transports []Transport, opts ...Option) (*Dispatcher, error) {
	if dir == nil {
		return nil, errors.New("notify: nil directory")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	d := &Dispatcher{
		log:        log,
		dir:        dir,
		transports: make(map[Channel]Transport, len(transports)),
		cfg:        cfg,
		queue:      make(chan job, cfg.QueueSize),
	}
	for _, t := range transports {
		if t != nil {
			d.transports[t.Channel()] = t
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Notify enqueues a delivery and returns immediately. With no channels the
// defaults for ev.Kind apply. A full queue drops the job.
func (d *Dispatcher) Notify(userID string, ev Event, channels ...Channel) {
	userID = strings.TrimSpace(userID)
	if d == nil || userID == "" {
		return
	}
	if len(channels) == 0 {
		channels = ChannelsFor(ev.Kind)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}

	select {
	case d.queue <- job{userID: userID, event: ev, channels: append([]Channel(nil), channels...)}:
	default:
		d.metrics.QueueDropped()
		d.log.Warn("notify.queue.full", "user_id", userID, "kind", ev.Kind)
	}
}

// Run serves the queue until ctx is done, then drains what is already
// queued and returns. Deliveries are bounded by DeliveryTimeout, not by ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	base := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.queue:
					d.deliver(base, j)
				}
			}
		}()
	}
	wg.Wait()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	for {
		select {
		case j := <-d.queue:
			d.deliver(base, j)
		default:
			return nil
		}
	}
}

// deliver handles one job. Each channel is independent: an error or panic
// in one is logged and never reaches the others.
func (d *Dispatcher) deliver(ctx context.Context, j job) {
	lookupCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	profile, err := d.dir.Lookup(lookupCtx, j.userID)
	cancel()
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			d.log.Debug("notify.user.unknown", "user_id", j.userID)
		} else {
			d.log.Warn("notify.lookup.fail", "user_id", j.userID, "err", err)
		}
		return
	}

	seen := make(map[Channel]bool, len(j.channels))
	for _, ch := range j.channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		d.deliverChannel(ctx, profile, ch, j.event)
	}
}

func (d *Dispatcher) deliverChannel(ctx context.Context, p directory.Profile, ch Channel, ev Event) {
	t := d.transports[ch]
	if t == nil || !Eligible(p, ch) {
		d.metrics.Notification(string(ch), "skipped")
		d.log.Debug("notify.channel.skip", "user_id", p.UserID, "channel", ch, "configured", t != nil)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	err := safeDeliver(ctx, t, p, ev)
	if err != nil {
		d.metrics.Notification(string(ch), "failed")
		d.log.Warn("notify.channel.fail", "user_id", p.UserID, "channel", ch, "kind", ev.Kind, "err", err)
		return
	}
	d.metrics.Notification(string(ch), "sent")
	d.log.Debug("notify.channel.sent", "user_id", p.UserID, "channel", ch, "kind", ev.Kind)
}

func safeDeliver(ctx context.Context, t Transport, p directory.Profile, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return t.Deliver(ctx, p, ev)
}
