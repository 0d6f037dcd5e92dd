package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/webhook"
)

const (
	// deliveryLogSize is how many recent deliveries are kept per (url, event).
	deliveryLogSize = 10

	// deliveryLogTTL expires idle delivery histories.
	deliveryLogTTL = 24 * time.Hour
)

// DeliveryLog implements webhook.DeliveryLog as a capped Redis list per
// (url, event) pair.
type DeliveryLog struct {
	client *Client
}

// NewDeliveryLog creates a new DeliveryLog.
func NewDeliveryLog(client *Client) *DeliveryLog {
	return &DeliveryLog{client: client}
}

// Record prepends a delivery record and trims the history to the cap.
func (l *DeliveryLog) Record(ctx context.Context, rec webhook.DeliveryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery record: %w", err)
	}

	key := l.key(rec.URL, rec.Event)
	pipe := l.client.Client().TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, deliveryLogSize-1)
	pipe.Expire(ctx, key, deliveryLogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	return nil
}

// Recent returns the delivery history for a (url, event) pair, newest first.
func (l *DeliveryLog) Recent(ctx context.Context, url string, event scan.Event) ([]webhook.DeliveryRecord, error) {
	items, err := l.client.Client().LRange(ctx, l.key(url, event), 0, deliveryLogSize-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery log: %w", err)
	}

	records := make([]webhook.DeliveryRecord, 0, len(items))
	for _, item := range items {
		var rec webhook.DeliveryRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			// Skip corrupt entries, the log is advisory.
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

func (l *DeliveryLog) key(url string, event scan.Event) string {
	return fmt.Sprintf("webhook:log:%s:%s", url, event)
}
