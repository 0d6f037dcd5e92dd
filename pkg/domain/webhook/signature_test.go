package webhook_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/webhook"
)

func TestSignAndVerify(t *testing.T) {
	secret := "s3cret"
	body := []byte(`{"event":"scan.completed","data":{"scan_id":"abc"}}`)

	t.Run("round trip", func(t *testing.T) {
		sig := webhook.Sign(secret, body)
		assert.True(t, strings.HasPrefix(sig, webhook.SignaturePrefix))
		assert.True(t, webhook.Verify(secret, body, sig))
	})

	t.Run("signature is deterministic", func(t *testing.T) {
		assert.Equal(t, webhook.Sign(secret, body), webhook.Sign(secret, body))
	})

	t.Run("mutated body fails", func(t *testing.T) {
		sig := webhook.Sign(secret, body)
		tampered := append([]byte(nil), body...)
		tampered[0] = '['
		assert.False(t, webhook.Verify(secret, tampered, sig))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		sig := webhook.Sign(secret, body)
		assert.False(t, webhook.Verify("other", body, sig))
	})

	t.Run("missing prefix fails", func(t *testing.T) {
		sig := webhook.Sign(secret, body)
		assert.False(t, webhook.Verify(secret, body, strings.TrimPrefix(sig, webhook.SignaturePrefix)))
	})
}

func TestSubscription(t *testing.T) {
	events := []scan.Event{scan.EventScanCompleted, scan.EventScanFailed}

	t.Run("new subscription is active with deduped events", func(t *testing.T) {
		sub, err := webhook.NewSubscription("ops", "https://hooks.example.com/recon", "",
			[]scan.Event{scan.EventScanCompleted, scan.EventScanCompleted})
		require.NoError(t, err)

		assert.True(t, sub.Active)
		assert.Len(t, sub.Events, 1)
	})

	t.Run("rejects unknown event", func(t *testing.T) {
		_, err := webhook.NewSubscription("ops", "https://hooks.example.com/recon", "",
			[]scan.Event{scan.Event("scan.paused")})
		assert.Error(t, err)
	})

	t.Run("rejects empty event list", func(t *testing.T) {
		_, err := webhook.NewSubscription("ops", "https://hooks.example.com/recon", "", nil)
		assert.Error(t, err)
	})

	t.Run("add and remove events", func(t *testing.T) {
		sub, err := webhook.NewSubscription("ops", "https://hooks.example.com/recon", "", events)
		require.NoError(t, err)

		require.NoError(t, sub.AddEvent(scan.EventScanAborted))
		assert.True(t, sub.SubscribedTo(scan.EventScanAborted))

		// duplicate add is a no-op
		require.NoError(t, sub.AddEvent(scan.EventScanAborted))
		assert.Len(t, sub.Events, 3)

		sub.RemoveEvent(scan.EventScanFailed)
		assert.False(t, sub.SubscribedTo(scan.EventScanFailed))
		assert.True(t, sub.HasEvents())
	})

	t.Run("activate and deactivate", func(t *testing.T) {
		sub, err := webhook.NewSubscription("ops", "https://hooks.example.com/recon", "", events)
		require.NoError(t, err)

		sub.Deactivate()
		assert.False(t, sub.Active)
		sub.Activate()
		assert.True(t, sub.Active)
	})
}
