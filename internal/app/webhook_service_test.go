package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconpoint/api/internal/app"
	"github.com/reconpoint/api/internal/infra/notification"
	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/webhook"
	"github.com/reconpoint/api/pkg/logger"
)

type memWebhookRepo struct {
	mu   sync.Mutex
	subs map[shared.ID]*webhook.Subscription
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{subs: make(map[shared.ID]*webhook.Subscription)}
}

func (r *memWebhookRepo) Create(_ context.Context, s *webhook.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing.URL == s.URL {
			return shared.NewDomainError("ALREADY_EXISTS", "subscription already exists for url", shared.ErrAlreadyExists)
		}
	}
	r.subs[s.ID] = s
	return nil
}

func (r *memWebhookRepo) GetByID(_ context.Context, id shared.ID) (*webhook.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "subscription not found", shared.ErrNotFound)
	}
	return s, nil
}

func (r *memWebhookRepo) GetByURL(_ context.Context, url string) (*webhook.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.URL == url {
			return s, nil
		}
	}
	return nil, shared.NewDomainError("NOT_FOUND", "subscription not found", shared.ErrNotFound)
}

func (r *memWebhookRepo) Update(_ context.Context, s *webhook.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s.ID]; !ok {
		return shared.NewDomainError("NOT_FOUND", "subscription not found", shared.ErrNotFound)
	}
	r.subs[s.ID] = s
	return nil
}

func (r *memWebhookRepo) Delete(_ context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return shared.NewDomainError("NOT_FOUND", "subscription not found", shared.ErrNotFound)
	}
	delete(r.subs, id)
	return nil
}

func (r *memWebhookRepo) List(_ context.Context) ([]*webhook.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*webhook.Subscription
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out, nil
}

func (r *memWebhookRepo) ListActiveForEvent(_ context.Context, event scan.Event) ([]*webhook.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*webhook.Subscription
	for _, s := range r.subs {
		if s.Active && s.SubscribedTo(event) {
			out = append(out, s)
		}
	}
	return out, nil
}

type memDeliveryLog struct {
	mu      sync.Mutex
	records []webhook.DeliveryRecord
}

func (l *memDeliveryLog) Record(_ context.Context, rec webhook.DeliveryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *memDeliveryLog) Recent(_ context.Context, url string, event scan.Event) ([]webhook.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []webhook.DeliveryRecord
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].URL == url && l.records[i].Event == event {
			out = append(out, l.records[i])
		}
	}
	return out, nil
}

func newWebhookService(allowPrivate bool) (*app.WebhookService, *memWebhookRepo, *memDeliveryLog) {
	repo := newMemWebhookRepo()
	log := &memDeliveryLog{}
	deliverer := notification.NewDeliverer(
		notification.RetryPolicy{MaxRetries: 0, RetryDelay: time.Millisecond},
		time.Second, log, logger.NewNop(),
	)
	svc := app.NewWebhookService(repo, log, deliverer, allowPrivate, logger.NewNop())
	return svc, repo, log
}

func TestWebhookService_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("creates subscription", func(t *testing.T) {
		svc, _, _ := newWebhookService(false)

		sub, err := svc.Subscribe(ctx, app.SubscribeInput{
			Name:   "ops",
			URL:    "https://hooks.example.com/recon",
			Events: []scan.Event{scan.EventScanCompleted},
		})
		require.NoError(t, err)
		assert.True(t, sub.Active)
		assert.True(t, sub.SubscribedTo(scan.EventScanCompleted))
	})

	t.Run("same url extends events instead of duplicating", func(t *testing.T) {
		svc, repo, _ := newWebhookService(false)

		first, err := svc.Subscribe(ctx, app.SubscribeInput{
			Name:   "ops",
			URL:    "https://hooks.example.com/recon",
			Events: []scan.Event{scan.EventScanCompleted},
		})
		require.NoError(t, err)

		second, err := svc.Subscribe(ctx, app.SubscribeInput{
			Name:   "ops",
			URL:    "https://hooks.example.com/recon",
			Events: []scan.Event{scan.EventScanFailed},
		})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.SubscribedTo(scan.EventScanCompleted))
		assert.True(t, second.SubscribedTo(scan.EventScanFailed))

		all, _ := repo.List(ctx)
		assert.Len(t, all, 1)
	})

	t.Run("rejects unknown event", func(t *testing.T) {
		svc, _, _ := newWebhookService(false)
		_, err := svc.Subscribe(ctx, app.SubscribeInput{
			Name:   "ops",
			URL:    "https://hooks.example.com/recon",
			Events: []scan.Event{scan.Event("scan.paused")},
		})
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("rejects private urls", func(t *testing.T) {
		svc, _, _ := newWebhookService(false)
		for _, url := range []string{
			"https://localhost/hook",
			"https://127.0.0.1/hook",
			"https://169.254.169.254/latest/meta-data",
			"https://10.0.0.5/hook",
			"ftp://example.com/hook",
		} {
			_, err := svc.Subscribe(ctx, app.SubscribeInput{
				Name:   "ops",
				URL:    url,
				Events: []scan.Event{scan.EventScanCompleted},
			})
			assert.Error(t, err, url)
		}
	})

	t.Run("private urls allowed when configured", func(t *testing.T) {
		svc, _, _ := newWebhookService(true)
		_, err := svc.Subscribe(ctx, app.SubscribeInput{
			Name:   "dev",
			URL:    "http://127.0.0.1:9000/hook",
			Events: []scan.Event{scan.EventScanCompleted},
		})
		assert.NoError(t, err)
	})
}

func TestWebhookService_Unsubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("removing one event keeps subscription", func(t *testing.T) {
		svc, _, _ := newWebhookService(false)
		sub, err := svc.Subscribe(ctx, app.SubscribeInput{
			Name:   "ops",
			URL:    "https://hooks.example.com/recon",
			Events: []scan.Event{scan.EventScanCompleted, scan.EventScanFailed},
		})
		require.NoError(t, err)

		require.NoError(t, svc.Unsubscribe(ctx, sub.ID, scan.EventScanFailed))

		got, err := svc.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, got.SubscribedTo(scan.EventScanFailed))
		assert.True(t, got.SubscribedTo(scan.EventScanCompleted))
	})

	t.Run("removing last event deletes subscription", func(t *testing.T) {
		svc, _, _ := newWebhookService(false)
		sub, err := svc.Subscribe(ctx, app.SubscribeInput{
			Name:   "ops",
			URL:    "https://hooks.example.com/recon",
			Events: []scan.Event{scan.EventScanCompleted},
		})
		require.NoError(t, err)

		require.NoError(t, svc.Unsubscribe(ctx, sub.ID, scan.EventScanCompleted))

		_, err = svc.GetSubscription(ctx, sub.ID)
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("empty event deletes subscription", func(t *testing.T) {
		svc, _, _ := newWebhookService(false)
		sub, err := svc.Subscribe(ctx, app.SubscribeInput{
			Name:   "ops",
			URL:    "https://hooks.example.com/recon",
			Events: []scan.Event{scan.EventScanCompleted, scan.EventScanFailed},
		})
		require.NoError(t, err)

		require.NoError(t, svc.Unsubscribe(ctx, sub.ID, ""))
		_, err = svc.GetSubscription(ctx, sub.ID)
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestWebhookService_TestWebhook(t *testing.T) {
	ctx := context.Background()

	var gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, _, _ := newWebhookService(true)
	sub, err := svc.Subscribe(ctx, app.SubscribeInput{
		Name:   "ops",
		URL:    srv.URL,
		Events: []scan.Event{scan.EventScanCompleted},
	})
	require.NoError(t, err)

	require.NoError(t, svc.TestWebhook(ctx, sub.ID))
	assert.Equal(t, "webhook.test", gotEvent)

	recs, err := svc.RecentDeliveries(ctx, sub.ID, scan.EventWebhookTest)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
}
