package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/noteverse/noteverse/internal/schema"
)

// Enqueue appends a deferred request to the persisted offline queue.
//
// Queued requests are replayed in enqueue order by the connectivity monitor
// when the device comes back online.
func (c *Client) Enqueue(method, endpoint string, body interface{}) error {
	queue, err := c.Queued()
	if err != nil {
		return err
	}

	var data json.RawMessage
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode queued request body: %w", err)
		}
		data = encoded
	}

	queue = append(queue, schema.QueuedRequest{
		Method:    method,
		Endpoint:  endpoint,
		Data:      data,
		Timestamp: time.Now(),
	})

	return c.saveQueue(queue)
}

// Queued returns the persisted offline request queue in enqueue order.
func (c *Client) Queued() ([]schema.QueuedRequest, error) {
	raw, ok, err := c.settings.GetSetting(schema.SettingQueuedRequests)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var queue []schema.QueuedRequest
	if err := json.Unmarshal([]byte(raw), &queue); err != nil {
		return nil, fmt.Errorf("failed to decode queued requests: %w", err)
	}
	return queue, nil
}

// ClearQueue empties the persisted offline request queue.
func (c *Client) ClearQueue() error {
	return c.saveQueue(nil)
}

func (c *Client) saveQueue(queue []schema.QueuedRequest) error {
	if queue == nil {
		queue = []schema.QueuedRequest{}
	}
	encoded, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("failed to encode queued requests: %w", err)
	}
	return c.settings.SetSetting(schema.SettingQueuedRequests, string(encoded))
}
