package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconpoint/api/internal/infra/notification"
	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/webhook"
	"github.com/reconpoint/api/pkg/logger"
)

type memoryLog struct {
	mu      sync.Mutex
	records []webhook.DeliveryRecord
}

func (l *memoryLog) Record(_ context.Context, rec webhook.DeliveryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *memoryLog) Recent(_ context.Context, url string, event scan.Event) ([]webhook.DeliveryRecord, error) {
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

func fastPolicy() notification.RetryPolicy {
	return notification.RetryPolicy{MaxRetries: 2, RetryDelay: time.Millisecond}
}

func newSubscription(t *testing.T, url, secret string) *webhook.Subscription {
	t.Helper()
	sub, err := webhook.NewSubscription("test", url, secret, []scan.Event{scan.EventScanCompleted})
	require.NoError(t, err)
	return sub
}

func TestDeliverer_Deliver(t *testing.T) {
	data := map[string]any{"scan_id": "abc", "target": "example.com"}

	t.Run("success sends envelope and headers", func(t *testing.T) {
		var gotBody []byte
		var gotHeaders http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
			gotHeaders = r.Header.Clone()
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		d := notification.NewDeliverer(fastPolicy(), time.Second, &memoryLog{}, logger.NewNop())
		sub := newSubscription(t, srv.URL, "topsecret")

		err := d.Deliver(context.Background(), sub, scan.EventScanCompleted, data)
		require.NoError(t, err)

		assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
		assert.Equal(t, "scan.completed", gotHeaders.Get("X-Webhook-Event"))

		var envelope notification.Envelope
		require.NoError(t, json.Unmarshal(gotBody, &envelope))
		assert.Equal(t, "scan.completed", envelope.Event)
		assert.Equal(t, "abc", envelope.Data["scan_id"])

		ts, err := time.Parse(time.RFC3339, envelope.Timestamp)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)

		sig := gotHeaders.Get("X-Webhook-Signature")
		require.NotEmpty(t, sig)
		assert.True(t, webhook.Verify("topsecret", gotBody, sig))
	})

	t.Run("no signature header without secret", func(t *testing.T) {
		var gotHeaders http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeaders = r.Header.Clone()
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		d := notification.NewDeliverer(fastPolicy(), time.Second, &memoryLog{}, logger.NewNop())
		sub := newSubscription(t, srv.URL, "")

		require.NoError(t, d.Deliver(context.Background(), sub, scan.EventScanCompleted, data))
		assert.Empty(t, gotHeaders.Get("X-Webhook-Signature"))
	})

	t.Run("retries until success", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		log := &memoryLog{}
		d := notification.NewDeliverer(fastPolicy(), time.Second, log, logger.NewNop())
		sub := newSubscription(t, srv.URL, "")

		require.NoError(t, d.Deliver(context.Background(), sub, scan.EventScanCompleted, data))
		assert.Equal(t, 3, calls)

		recs, err := log.Recent(context.Background(), srv.URL, scan.EventScanCompleted)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].Success)
		assert.Equal(t, 3, recs[0].Attempts)
	})

	t.Run("exhausts after max attempts", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		log := &memoryLog{}
		policy := notification.RetryPolicy{MaxRetries: 3, RetryDelay: time.Millisecond}
		d := notification.NewDeliverer(policy, time.Second, log, logger.NewNop())
		sub := newSubscription(t, srv.URL, "")

		err := d.Deliver(context.Background(), sub, scan.EventScanCompleted, data)
		require.Error(t, err)
		assert.True(t, errors.Is(err, notification.ErrDeliveryExhausted))
		assert.Equal(t, 4, calls)

		recs, _ := log.Recent(context.Background(), srv.URL, scan.EventScanCompleted)
		require.Len(t, recs, 1)
		assert.False(t, recs[0].Success)
		assert.Equal(t, 4, recs[0].Attempts)
		assert.Equal(t, http.StatusBadGateway, recs[0].StatusCode)
	})

	t.Run("unlisted 2xx status is a failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusMultiStatus) // 207 is 2xx but not accepted
		}))
		defer srv.Close()

		d := notification.NewDeliverer(notification.RetryPolicy{MaxRetries: 0, RetryDelay: time.Millisecond}, time.Second, &memoryLog{}, logger.NewNop())
		sub := newSubscription(t, srv.URL, "")

		err := d.Deliver(context.Background(), sub, scan.EventScanCompleted, data)
		assert.True(t, errors.Is(err, notification.ErrDeliveryExhausted))
	})

	t.Run("connection error counts as attempt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // nothing listening

		log := &memoryLog{}
		d := notification.NewDeliverer(fastPolicy(), time.Second, log, logger.NewNop())
		sub := newSubscription(t, srv.URL, "")

		err := d.Deliver(context.Background(), sub, scan.EventScanCompleted, data)
		assert.True(t, errors.Is(err, notification.ErrDeliveryExhausted))

		recs, _ := log.Recent(context.Background(), srv.URL, scan.EventScanCompleted)
		require.Len(t, recs, 1)
		assert.Equal(t, 0, recs[0].StatusCode)
		assert.NotEmpty(t, recs[0].Error)
	})
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := notification.DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 5*time.Second, p.RetryDelay)
}
