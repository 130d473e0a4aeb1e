package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"quoteline/internal/config"
	"quoteline/internal/domain"
	"quoteline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookForwarder tails the audit trail and posts new entries to every
// configured target. Each target keeps its own cursor so a slow endpoint
// never blocks the others. Delivery stops at the first failed POST per target
// and retries from the same cursor on the next tick.
type webhookForwarder struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func startWebhookForwarder(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	f := &webhookForwarder{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go f.run()
}

func (f *webhookForwarder) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		f.dispatchAll()
		<-ticker.C
	}
}

func (f *webhookForwarder) dispatchAll() {
	for i, hook := range f.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		f.dispatchWebhook(i, hook)
	}
}

func (f *webhookForwarder) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := f.cursorFor(idx)
	entries, err := f.engine.Repo.AuditEntriesAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.Printf("webhook: fetch audit entries failed: %v", err)
		return
	}
	for _, entry := range entries {
		if err := f.postEntry(ctx, hook, entry); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		f.setCursor(idx, entry.ID)
	}
}

// cursorFor starts a fresh target at the current tail so it only ever sees
// entries recorded after it was configured.
func (f *webhookForwarder) cursorFor(idx int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.cursors[idx]; ok {
		return cur
	}
	cur, err := f.engine.Repo.LatestAuditEntryID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	f.cursors[idx] = cur
	return cur
}

func (f *webhookForwarder) setCursor(idx int, value int64) {
	f.mu.Lock()
	f.cursors[idx] = value
	f.mu.Unlock()
}

type webhookAuditEvent struct {
	ID          int64  `json:"id"`
	QuotationID string `json:"quotation_id"`
	ActorID     string `json:"actor_id"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

func (f *webhookForwarder) postEntry(ctx context.Context, hook config.WebhookConfig, entry domain.AuditEntry) error {
	data, err := json.Marshal(webhookAuditEvent{
		ID:          entry.ID,
		QuotationID: entry.QuotationID,
		ActorID:     entry.ActorID,
		Description: entry.Description,
		CreatedAt:   entry.CreatedAt,
	})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := f.client
	if timeout != f.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Quoteline-Delivery", fmt.Sprintf("%d", entry.ID))
	req.Header.Set("X-Quoteline-Quotation", entry.QuotationID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Quoteline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
