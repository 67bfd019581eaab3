package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/logging"
)

type Config struct {
	WorkerCount int
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher queues notifications on a bounded buffer and delivers them from a
// small worker pool. Notify drops instead of blocking when the buffer is full.
type Dispatcher struct {
	channels    []Channel
	queue       chan core.Notification
	workers     int
	sendTimeout time.Duration
	logger      *zap.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	dropped     atomic.Int64
	startOnce   sync.Once
	stopOnce    sync.Once
}

func NewDispatcher(caps []Capability, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify")

	d := &Dispatcher{
		queue:       make(chan core.Notification, cfg.QueueSize),
		workers:     cfg.WorkerCount,
		sendTimeout: cfg.SendTimeout,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
	for _, c := range caps {
		ch, ok := c.Channel()
		if !ok {
			logger.Info("notification channel unavailable",
				zap.String("channel", c.Name()), zap.String("reason", c.Reason()))
			continue
		}
		d.channels = append(d.channels, ch)
	}
	return d
}

func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Stop delivers what is already buffered and waits for the workers.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
	})
}

// Notify implements core.Notifier.
func (d *Dispatcher) Notify(_ context.Context, n core.Notification) {
	if len(d.channels) == 0 {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping",
			logging.JobID(n.JobID), zap.String("type", string(n.Type)))
	}
}

func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		case n := <-d.queue:
			d.deliver(n)
		}
	}
}

func (d *Dispatcher) deliver(n core.Notification) {
	for _, ch := range d.channels {
		if err := d.send(ch, n); err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("channel", ch.Name()),
				logging.JobID(n.JobID),
				zap.String("type", string(n.Type)),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) send(ch Channel, n core.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	return ch.Send(ctx, n)
}
