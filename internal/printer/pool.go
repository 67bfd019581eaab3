package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/logging"
)

var (
	ErrPrinterNotFound    = errors.New("printer not found")
	ErrNoPrinterAvailable = errors.New("no printer available")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrNoDocument         = errors.New("job has no durable document")
)

const (
	defaultTCPPort          = 9100
	defaultReadWriteTimeout = 10 * time.Second
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusBusy    = "busy"
	StatusPaused  = "paused"
)

type Printer struct {
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Status     string     `json:"status"`
	CurrentJob string     `json:"current_job,omitempty"`
	TotalJobs  int64      `json:"total_jobs"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// ObjectOpener reads a migrated document back from durable storage.
type ObjectOpener interface {
	Open(ctx context.Context, objectID string) (io.ReadCloser, error)
}

// Pool sends documents to raw TCP (port 9100) printers. Idle printers are picked
// round-robin; a printer holds one job at a time. Execute waits for a printer to
// become free rather than failing while every printer is busy or not yet probed.
type Pool struct {
	printers []*Printer
	byName   map[string]*Printer
	storage  ObjectOpener
	notifier core.Notifier
	config   *config.PrintersConfig
	logger   *zap.Logger
	dialer   net.Dialer

	mu     sync.Mutex
	next   int
	// freed is closed and replaced whenever a printer may have become available.
	freed  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPool(cfg *config.PrintersConfig, storage ObjectOpener, notifier core.Notifier, logger *zap.Logger) *Pool {
	if notifier == nil {
		notifier = core.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ConnectionTimeout
	if timeout == 0 {
		timeout = defaultReadWriteTimeout
	}

	p := &Pool{
		byName:   make(map[string]*Printer),
		storage:  storage,
		notifier: notifier,
		config:   cfg,
		logger:   logger.Named("printer"),
		dialer:   net.Dialer{Timeout: timeout},
		freed:    make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
	for _, d := range cfg.Devices {
		port := d.Port
		if port == 0 {
			port = defaultTCPPort
		}
		pr := &Printer{
			Name:    d.Name,
			Address: net.JoinHostPort(d.IPAddress, strconv.Itoa(port)),
			Status:  StatusOffline,
		}
		p.printers = append(p.printers, pr)
		p.byName[pr.Name] = pr
	}
	return p
}

func (p *Pool) Start() {
	p.wg.Add(1)
	go p.healthCheckLoop()
}

func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pool) ListPrinters() []Printer {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Printer, 0, len(p.printers))
	for _, pr := range p.printers {
		out = append(out, *pr)
	}
	return out
}

// Execute prints job on the next idle printer, waiting for one until ctx ends.
// It implements core.Executor.
func (p *Pool) Execute(ctx context.Context, job *core.PrintJob) error {
	if job.StorageRef == nil {
		return fmt.Errorf("%w: %s", ErrNoDocument, job.ID)
	}

	pr, err := p.waitForPrinter(ctx, job.ID)
	if err != nil {
		return err
	}
	defer p.release(pr)

	rc, err := p.storage.Open(ctx, job.StorageRef.ObjectID)
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	doc, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", pr.Address)
	if err != nil {
		p.updateStatus(ctx, pr, StatusOffline)
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, pr.Name, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	copies := job.PrintSpec.Copies
	if copies < 1 {
		copies = 1
	}
	for i := 0; i < copies; i++ {
		_ = conn.SetWriteDeadline(time.Now().Add(p.dialer.Timeout))
		if _, err := io.Copy(conn, bytes.NewReader(doc)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, pr.Name, err)
		}
	}

	p.mu.Lock()
	pr.TotalJobs++
	p.mu.Unlock()

	p.logger.Info("document sent to printer",
		logging.JobID(job.ID),
		zap.String(logging.FieldPrinter, pr.Name),
		zap.Int("copies", copies),
		zap.Int("bytes", len(doc)))
	return nil
}

func (p *Pool) waitForPrinter(ctx context.Context, jobID string) (*Printer, error) {
	for {
		p.mu.Lock()
		pr := p.pickLocked(jobID)
		freed := p.freed
		p.mu.Unlock()
		if pr != nil {
			return pr, nil
		}

		select {
		case <-freed:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNoPrinterAvailable, ctx.Err())
		}
	}
}

func (p *Pool) acquire(jobID string) (*Printer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pr := p.pickLocked(jobID); pr != nil {
		return pr, nil
	}
	return nil, ErrNoPrinterAvailable
}

func (p *Pool) pickLocked(jobID string) *Printer {
	n := len(p.printers)
	for i := 0; i < n; i++ {
		pr := p.printers[(p.next+i)%n]
		if pr.Status != StatusOnline {
			continue
		}
		p.next = (p.next + i + 1) % n
		pr.Status = StatusBusy
		pr.CurrentJob = jobID
		return pr
	}
	return nil
}

func (p *Pool) signalLocked() {
	close(p.freed)
	p.freed = make(chan struct{})
}

func (p *Pool) release(pr *Printer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr.CurrentJob = ""
	if pr.Status == StatusBusy {
		pr.Status = StatusOnline
		p.signalLocked()
	}
}

func (p *Pool) PausePrinter(ctx context.Context, name string) error {
	pr, ok := p.byName[name]
	if !ok {
		return ErrPrinterNotFound
	}
	p.updateStatus(ctx, pr, StatusPaused)
	return nil
}

func (p *Pool) ResumePrinter(ctx context.Context, name string) error {
	pr, ok := p.byName[name]
	if !ok {
		return ErrPrinterNotFound
	}
	p.updateStatus(ctx, pr, StatusOffline)
	p.CheckStatus(ctx, pr)
	return nil
}

// CheckStatus probes a printer's port. Busy and paused printers keep their status.
func (p *Pool) CheckStatus(ctx context.Context, pr *Printer) string {
	p.mu.Lock()
	current := pr.Status
	p.mu.Unlock()
	if current == StatusBusy || current == StatusPaused {
		return current
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", pr.Address)
	if err != nil {
		p.updateStatus(ctx, pr, StatusOffline)
		return StatusOffline
	}
	conn.Close()

	p.mu.Lock()
	now := time.Now()
	pr.LastSeenAt = &now
	p.mu.Unlock()

	p.updateStatus(ctx, pr, StatusOnline)
	return StatusOnline
}

func (p *Pool) CheckAllStatuses(ctx context.Context) {
	for _, pr := range p.printers {
		p.CheckStatus(ctx, pr)
	}
}

func (p *Pool) updateStatus(ctx context.Context, pr *Printer, status string) {
	p.mu.Lock()
	old := pr.Status
	if old == StatusBusy && status == StatusOnline {
		p.mu.Unlock()
		return
	}
	pr.Status = status
	if status == StatusOnline && old != StatusOnline {
		p.signalLocked()
	}
	p.mu.Unlock()

	if old == status {
		return
	}
	p.logger.Info("printer status changed",
		zap.String(logging.FieldPrinter, pr.Name),
		zap.String(logging.FieldFrom, old),
		zap.String(logging.FieldTo, status))
	p.notifier.Notify(ctx, core.Notification{
		Type:      core.NotifyPrinterStatus,
		Title:     "Printer status changed",
		Message:   fmt.Sprintf("%s is now %s (was %s)", pr.Name, status, old),
		Staff:     true,
		Timestamp: time.Now(),
	})
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	interval := p.config.HealthCheckInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stopCh
		cancel()
	}()

	p.CheckAllStatuses(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.CheckAllStatuses(ctx)
		}
	}
}
