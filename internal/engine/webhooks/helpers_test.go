package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hookline/internal/platform/config"
	"hookline/internal/platform/database"
	"hookline/internal/platform/models"
	"hookline/internal/platform/repositories"
	"hookline/migrations"
)

type testEngine struct {
	configs    *repositories.WebhookRepository
	logs       *repositories.DeliveryLogRepository
	pool       *Pool
	dispatcher *Dispatcher
	scheduler  *Scheduler
	service    *Service
}

func newTestEngine(t *testing.T, mutate ...func(*DispatcherConfig)) *testEngine {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Driver: database.DriverSQLite, DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = database.Migrate(context.Background(), db, migrations.FS)
	require.NoError(t, err)

	cfg := DefaultDispatcherConfig()
	cfg.Backoff = Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	for _, m := range mutate {
		m(&cfg)
	}

	e := &testEngine{
		configs: repositories.NewWebhookRepository(db),
		logs:    repositories.NewDeliveryLogRepository(db),
		pool:    NewPool(8, 64),
	}
	t.Cleanup(e.pool.Close)

	e.dispatcher = NewDispatcher(e.configs, e.logs, e.pool, cfg, nil)
	e.scheduler = NewScheduler(e.logs, e.dispatcher, e.pool, SchedulerConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    50,
		ClaimLease:   time.Minute,
	}, nil)
	// Every retry is due from the scheduler's point of view.
	e.scheduler.now = func() time.Time { return time.Now().Add(time.Hour) }
	e.service = NewService(e.configs, e.logs, e.dispatcher, NewVerifier("test-agent", nil), nil)
	return e
}

// addConfig stores a configuration, verified and active unless told otherwise.
func (e *testEngine) addConfig(t *testing.T, url string, maxRetries int, opts ...func(*models.WebhookConfiguration)) *models.WebhookConfiguration {
	t.Helper()
	ctx := context.Background()

	c := &models.WebhookConfiguration{
		OrganizationID:   "org_1",
		CallbackURL:      url,
		VerifyToken:      "vtok_test",
		SecretKey:        "whsec_test",
		SubscribedEvents: []string{"post.published"},
		TimeoutSeconds:   5,
		MaxRetries:       maxRetries,
		IsVerified:       true,
		IsActive:         true,
	}
	for _, o := range opts {
		o(c)
	}
	require.NoError(t, e.configs.Create(ctx, c))
	return c
}

func unverified(c *models.WebhookConfiguration) {
	c.IsVerified = false
	c.IsActive = false
}

func newEvent(payload string) *models.Event {
	return &models.Event{
		OrganizationID: "org_1",
		Type:           "post.published",
		Payload:        json.RawMessage(payload),
		CreatedAt:      time.Now().UnixMilli(),
	}
}

// receiver records every delivery and answers with the scripted statuses;
// once the script runs out it keeps returning the last one.
type receiver struct {
	srv      *httptest.Server
	hits     atomic.Int64
	mu       sync.Mutex
	requests []recordedRequest
	statuses []int
}

type recordedRequest struct {
	header http.Header
	body   []byte
}

func newReceiver(t *testing.T, statuses ...int) *receiver {
	t.Helper()
	r := &receiver{statuses: statuses}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		n := r.hits.Add(1)

		r.mu.Lock()
		r.requests = append(r.requests, recordedRequest{header: req.Header.Clone(), body: body})
		r.mu.Unlock()

		status := http.StatusOK
		if len(r.statuses) > 0 {
			i := int(n) - 1
			if i >= len(r.statuses) {
				i = len(r.statuses) - 1
			}
			status = r.statuses[i]
		}
		w.WriteHeader(status)
		w.Write([]byte("status " + strconv.Itoa(status)))
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *receiver) request(i int) recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[i]
}

// drain runs scheduler sweeps until nothing is due.
func (e *testEngine) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		n, err := e.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("scheduler never ran dry")
}
