package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
)

type recordingChannel struct {
	name string
	mu   sync.Mutex
	got  []core.Notification
	err  error
	hook func(n core.Notification)
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, n core.Notification) error {
	if c.hook != nil {
		c.hook(n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type staticContacts map[string][2]string

func (s staticContacts) Contact(_ context.Context, ownerID string) (string, string, error) {
	c := s[ownerID]
	return c[0], c[1], nil
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "notify.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func note(owner string, typ core.NotificationType) core.Notification {
	return core.Notification{
		OwnerID:   owner,
		JobID:     "job-1",
		Type:      typ,
		Title:     "Queued for printing",
		Message:   "thesis.pdf is in the print queue.",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestDispatcherDeliversToEveryChannel(t *testing.T) {
	a := &recordingChannel{name: "a"}
	b := &recordingChannel{name: "b", err: errors.New("down")}
	d := NewDispatcher([]Capability{Available(a), Unavailable("sms", "disabled"), Available(b)}, Config{}, nil)
	d.Start()

	d.Notify(context.Background(), note("alice", core.NotifyJobQueued))
	d.Stop()

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestDispatcherNeverBlocks(t *testing.T) {
	ch := &recordingChannel{name: "slow"}
	d := NewDispatcher([]Capability{Available(ch)}, Config{WorkerCount: 1, QueueSize: 2}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(context.Background(), note("alice", core.NotifyJobCreated))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}
	assert.EqualValues(t, 8, d.Dropped())

	d.Start()
	d.Stop()
	assert.Equal(t, 2, ch.count())
}

func TestDispatcherSurvivesPanickingChannel(t *testing.T) {
	bad := &recordingChannel{name: "bad", hook: func(core.Notification) { panic("boom") }}
	good := &recordingChannel{name: "good"}
	d := NewDispatcher([]Capability{Available(bad), Available(good)}, Config{WorkerCount: 1}, nil)
	d.Start()
	d.Notify(context.Background(), note("alice", core.NotifyJobCompleted))
	d.Notify(context.Background(), note("alice", core.NotifyJobCompleted))
	d.Stop()

	assert.Equal(t, 2, good.count())
}

func TestDispatcherWithoutChannelsIsNoop(t *testing.T) {
	d := NewDispatcher([]Capability{Unavailable("email", "disabled")}, Config{QueueSize: 1}, nil)
	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), note("alice", core.NotifyJobCreated))
	}
	assert.Zero(t, d.Dropped())
}

func TestCapabilitiesFollowConfig(t *testing.T) {
	database := openDB(t)
	cfg := config.NotificationsConfig{
		InApp:    true,
		Email:    config.EmailConfig{Enabled: true},
		SMS:      config.SMSConfig{Enabled: true, Endpoint: "https://sms.example.test/send"},
		Webhooks: config.WebhookConfig{},
	}

	caps := Capabilities(cfg, database, nil)
	byName := map[string]Capability{}
	for _, c := range caps {
		byName[c.Name()] = c
	}

	assert.True(t, byName["in_app"].Available())
	assert.False(t, byName["email"].Available())
	assert.Equal(t, "smtp host or sender missing", byName["email"].Reason())
	assert.True(t, byName["sms"].Available())
	assert.False(t, byName["webhook"].Available())

	_, ok := byName["webhook"].Channel()
	assert.False(t, ok)
}

func TestInAppChannelRoutesStaffNotes(t *testing.T) {
	ops := db.NewNotificationOperations(openDB(t))
	ch := NewInAppChannel(ops)
	ctx := context.Background()

	require.NoError(t, ch.Send(ctx, note("alice", core.NotifyJobQueued)))
	staff := note("alice", core.NotifyMigrationFailed)
	staff.Staff = true
	require.NoError(t, ch.Send(ctx, staff))
	require.NoError(t, ch.Send(ctx, note("", core.NotifyPrinterStatus)))

	mine, err := ops.ListNotifications(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "job_queued", mine[0].Type)

	inbox, err := ops.ListNotifications(ctx, StaffInbox, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "migration_failed", inbox[0].Type)
}

func TestEmailChannel(t *testing.T) {
	ch := NewEmailChannel(config.EmailConfig{Host: "smtp.example.test", From: "desk@example.test"},
		staticContacts{"alice": {"alice@example.test", ""}})

	var sent []byte
	var to []string
	ch.sendMail = func(addr string, _ smtp.Auth, _ string, rcpt []string, msg []byte) error {
		assert.Equal(t, "smtp.example.test:587", addr)
		to, sent = rcpt, msg
		return nil
	}

	n := note("alice", core.NotifyJobCompleted)
	n.Title = "Done\r\nBcc: evil@example.test"
	require.NoError(t, ch.Send(context.Background(), n))
	assert.Equal(t, []string{"alice@example.test"}, to)
	assert.Contains(t, string(sent), "Subject: Done  Bcc: evil@example.test\r\n")
	assert.Contains(t, string(sent), "Job: job-1")

	sent = nil
	require.NoError(t, ch.Send(context.Background(), note("bob", core.NotifyJobCompleted)))
	staff := note("alice", core.NotifyJobFailed)
	staff.Staff = true
	require.NoError(t, ch.Send(context.Background(), staff))
	assert.Nil(t, sent)
}

func TestSMSChannel(t *testing.T) {
	var got smsRequest
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewSMSChannel(config.SMSConfig{Endpoint: srv.URL, APIKey: "key", Sender: "PRINTDESK"},
		staticContacts{"alice": {"", "+911234567890"}})

	require.NoError(t, ch.Send(context.Background(), note("alice", core.NotifyJobQueued)))
	assert.Equal(t, "+911234567890", got.To)
	assert.Equal(t, "PRINTDESK", got.From)
	assert.Equal(t, "Queued for printing: thesis.pdf is in the print queue.", got.Message)

	require.NoError(t, ch.Send(context.Background(), note("bob", core.NotifyJobQueued)))
	assert.EqualValues(t, 1, calls.Load())
}

type webhookList []*db.Webhook

func (l webhookList) ListActiveWebhooksForEvent(context.Context, string) ([]*db.Webhook, error) {
	return l, nil
}

func TestWebhookChannelSignsPayload(t *testing.T) {
	n := note("alice", core.NotifyJobFailed)
	n.Staff = true

	var body struct {
		Event     string          `json:"event"`
		Data      json.RawMessage `json:"data"`
		Signature string          `json:"signature"`
	}
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Webhook-Signature")
		assert.Equal(t, "job_failed", r.Header.Get("X-Webhook-Event"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(webhookList{{ID: 1, URL: srv.URL, Secret: "hook-secret"}},
		config.WebhookConfig{RetryCount: 1, RetryDelay: time.Millisecond, Timeout: time.Second}, nil)
	require.NoError(t, ch.Send(context.Background(), n))

	expected, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), string(body.Data))
	assert.Equal(t, SignPayload(expected, "hook-secret"), header)
	assert.Equal(t, header, body.Signature)
	assert.Equal(t, "job_failed", body.Event)
}

func TestWebhookChannelRetryPolicy(t *testing.T) {
	var clientErrs, serverErrs atomic.Int32
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientErrs.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer rejecting.Close()
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serverErrs.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer flaky.Close()

	hooks := webhookList{{ID: 1, URL: rejecting.URL}, {ID: 2, URL: flaky.URL}}
	ch := NewWebhookChannel(hooks, config.WebhookConfig{RetryCount: 3, RetryDelay: time.Millisecond, Timeout: time.Second}, nil)

	err := ch.Send(context.Background(), note("alice", core.NotifyJobFailed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.EqualValues(t, 1, clientErrs.Load())
	assert.EqualValues(t, 3, serverErrs.Load())
}

func TestDBContacts(t *testing.T) {
	ops := db.NewContactOperations(openDB(t))
	contacts := NewDBContacts(ops)
	ctx := context.Background()

	email, phone, err := contacts.Contact(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, email)
	assert.Empty(t, phone)

	require.NoError(t, ops.UpsertContact(ctx, &db.Contact{OwnerID: "alice", Email: "a@example.test"}))
	email, _, err = contacts.Contact(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a@example.test", email)
}
