package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/queue"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*PrintJob
	// beforeUpdate may reject a write before it is applied.
	beforeUpdate func(j *PrintJob) error
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*PrintJob)}
}

func (s *memStore) CreateJob(_ context.Context, j *PrintJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*PrintJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.Clone(), nil
}

func (s *memStore) GetJobByOrderID(_ context.Context, orderID string) (*PrintJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.OrderID == orderID {
			return j.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: order %s", ErrJobNotFound, orderID)
}

func (s *memStore) UpdateJob(_ context.Context, j *PrintJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeUpdate != nil {
		if err := s.beforeUpdate(j); err != nil {
			return err
		}
	}
	cur, ok := s.jobs[j.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, j.ID)
	}
	if cur.Version != j.Version {
		return ErrVersionConflict
	}
	j.Version++
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *memStore) ListJobs(_ context.Context, f JobFilter) ([]*PrintJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PrintJob
	for _, j := range s.jobs {
		if f.OwnerID != "" && j.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) CountJobsByStatus(context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (s *memStore) put(t *testing.T, j *PrintJob) *PrintJob {
	t.Helper()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	require.NoError(t, s.CreateJob(context.Background(), j))
	return j
}

func (s *memStore) get(t *testing.T, id string) *PrintJob {
	t.Helper()
	j, err := s.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// memStaging mimics the staging directory: size limit, extension allow-list, one
// entry per staged path.
type memStaging struct {
	mu      sync.Mutex
	files   map[string][]byte
	maxSize int64
	seq     int
}

func newMemStaging(maxSize int64) *memStaging {
	return &memStaging{files: make(map[string][]byte), maxSize: maxSize}
}

func (s *memStaging) Stage(ownerID string, r io.Reader, name string) (string, int64, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".docx", ".png":
	default:
		return "", 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return "", 0, err
	}
	if int64(len(data)) > s.maxSize {
		return "", 0, ErrFileTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	path := fmt.Sprintf("/staging/%s_%d_%s", ownerID, s.seq, name)
	s.files[path] = data
	return path, int64(len(data)), nil
}

func (s *memStaging) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok
}

func (s *memStaging) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

func (s *memStaging) add(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = []byte("%PDF-1.4")
}

func (s *memStaging) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

type memStorage struct {
	mu        sync.Mutex
	objects   map[string]int64
	uploads   int
	deletes   int
	uploadErr error
	deleteErr error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string]int64)}
}

func (s *memStorage) Upload(_ context.Context, localPath, folder, objectID string) (*StorageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	key := folder + "/" + objectID
	s.objects[key] = 8
	return &StorageRef{URL: "https://cdn.example.test/" + key, ObjectID: key, Bytes: 8}, nil
}

func (s *memStorage) Delete(_ context.Context, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, objectID)
	return nil
}

func (s *memStorage) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("%PDF-1.4")), nil
}

func (s *memStorage) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

const testPaymentSecret = "test-secret"

type fakePayments struct {
	mu     sync.Mutex
	orders int
	err    error
}

func (p *fakePayments) CreateOrder(_ context.Context, amount int64, currency, receipt string) (*OrderHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.orders++
	return &OrderHandle{
		OrderID:  fmt.Sprintf("order_%d", p.orders),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

func (p *fakePayments) VerifySignature(orderID, paymentID, signature string) error {
	mac := hmac.New(sha256.New, []byte(testPaymentSecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

func sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testPaymentSecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) types() []NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationType, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Type)
	}
	return out
}

func (n *recordingNotifier) staff() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, s := range n.sent {
		if s.Staff {
			out = append(out, s)
		}
	}
	return out
}

// funcExecutor runs fn for each print and tracks peak concurrency.
type funcExecutor struct {
	fn      func(ctx context.Context, job *PrintJob) error
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	orderMu sync.Mutex
	order   []string
}

func (e *funcExecutor) Execute(ctx context.Context, job *PrintJob) error {
	e.calls.Add(1)
	e.orderMu.Lock()
	e.order = append(e.order, job.ID)
	e.orderMu.Unlock()

	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.fn == nil {
		return nil
	}
	return e.fn(ctx, job)
}

func (e *funcExecutor) executed() []string {
	e.orderMu.Lock()
	defer e.orderMu.Unlock()
	return append([]string(nil), e.order...)
}

var errPrinterJam = errors.New("printer jammed")

func queuedJob(id string, priority Priority) *PrintJob {
	return &PrintJob{
		ID:                       id,
		OwnerID:                  "owner-1",
		DocumentName:             id + ".pdf",
		PrintSpec:                PrintSpec{Copies: 1, ColorMode: ColorBlack},
		Priority:                 priority,
		Status:                   StatusInQueue,
		PaymentStatus:            PaymentCompleted,
		StorageRef:               &StorageRef{ObjectID: "print-jobs/" + id},
		UploadedToDurableStorage: true,
	}
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		MaxConcurrent: 2,
		MaxRetries:    3,
		RetryDelay:    10 * time.Millisecond,
		JobTimeout:    time.Second,
	}
}

func newTestScheduler(t *testing.T, store JobStore, exec Executor, notifier Notifier, cfg *config.QueueConfig) (*Scheduler, *queue.MemoryQueue) {
	t.Helper()
	backend := queue.NewMemoryQueue()
	s := NewScheduler(store, backend, exec, notifier, cfg, zap.NewNop())
	return s, backend
}

func waitForStatus(t *testing.T, store *memStore, id string, want Status) *PrintJob {
	t.Helper()
	var job *PrintJob
	require.Eventually(t, func() bool {
		job = store.get(t, id)
		return job.Status == want
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func queueItem(id string) queue.Item {
	return queue.Item{JobID: id, EnqueuedAt: time.Now()}
}
