package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/farmassist/sync-api/internal/syncx"
)

// httpApplier forwards queued mutations to the entity services' apply
// endpoint. A 409 response carries the remote version and becomes a
// conflict; any other non-2xx status is a transient failure handled by the
// queue's retry policy.
type httpApplier struct {
	url    string
	token  string
	client *http.Client
}

func newHTTPApplier(url, token string) *httpApplier {
	return &httpApplier{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type applyRequest struct {
	QueueID         int64           `json:"queueId"`
	UserID          string          `json:"userId"`
	EntityType      string          `json:"entityType"`
	OperationType   syncx.Operation `json:"operationType"`
	EntityID        string          `json:"entityId,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	ClientTimestamp time.Time       `json:"clientTimestamp"`
}

type applyConflictResponse struct {
	RemoteData      json.RawMessage `json:"remoteData"`
	RemoteTimestamp time.Time       `json:"remoteTimestamp"`
	RemoteDeviceID  string          `json:"remoteDeviceId"`
}

func (a *httpApplier) Apply(ctx context.Context, item *syncx.QueueItem) error {
	payload := json.RawMessage(item.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	body, err := json.Marshal(applyRequest{
		QueueID:         item.ID,
		UserID:          item.UserID,
		EntityType:      item.EntityType,
		OperationType:   item.Operation,
		EntityID:        item.EntityID,
		Payload:         payload,
		ClientTimestamp: item.ClientTimestamp,
	})
	if err != nil {
		return fmt.Errorf("encode apply request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build apply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("apply %s %s: %w", item.EntityType, item.Operation, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusConflict:
		var cr applyConflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return fmt.Errorf("decode conflict response: %w", err)
		}
		return &syncx.ConflictError{
			RemoteData:      string(cr.RemoteData),
			RemoteTimestamp: cr.RemoteTimestamp,
			RemoteDeviceID:  cr.RemoteDeviceID,
		}

	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("apply %s %s: upstream returned %d: %s",
			item.EntityType, item.Operation, resp.StatusCode, detail)
	}
}
