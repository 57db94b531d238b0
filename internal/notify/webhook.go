package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"

	"garrison/internal/config"
	"garrison/internal/domain"
	"garrison/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookForwarder tails the event journal and POSTs matching events to the
// configured hook URLs. Delivery is at-least-once per hook; the per-hook
// cursor only advances past an event once it is delivered or filtered out.
type WebhookForwarder struct {
	repo     repo.Repo
	unit     string
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhookForwarder launches the forwarding loop when hooks are configured.
func StartWebhookForwarder(r repo.Repo, cfg *config.Config) {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return
	}
	unit := strings.TrimSpace(cfg.Unit.ID)
	if unit == "" {
		return
	}
	f := &WebhookForwarder{
		repo:     r,
		unit:     unit,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go f.run()
}

func (f *WebhookForwarder) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		f.dispatchAll()
		<-ticker.C
	}
}

func (f *WebhookForwarder) dispatchAll() {
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

func (f *WebhookForwarder) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := f.cursorFor(idx)
	evts, err := f.repo.EventsAfter(ctx, defaultWebhookBatch, cursor, f.unit)
	if err != nil {
		log.WithError(err).Error("webhook: fetch events")
		return
	}
	if len(evts) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			f.setCursor(idx, evt.ID)
			continue
		}
		if err := f.postEvent(ctx, hook, evt); err != nil {
			log.WithError(err).WithField("url", hook.URL).Error("webhook: deliver")
			return
		}
		f.setCursor(idx, evt.ID)
	}
}

func (f *WebhookForwarder) cursorFor(idx int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.cursors[idx]; ok {
		return cur
	}
	cur, err := f.repo.LatestEventID(context.Background(), f.unit)
	if err != nil {
		log.WithError(err).Error("webhook: init cursor")
		cur = 0
	}
	f.cursors[idx] = cur
	return cur
}

func (f *WebhookForwarder) setCursor(idx int, value int64) {
	f.mu.Lock()
	f.cursors[idx] = value
	f.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Unit       string          `json:"unit"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (f *WebhookForwarder) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	body := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		Unit:       evt.Unit,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	}
	data, err := json.Marshal(body)
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
	req.Header.Set("X-Garrison-Event", evt.Type)
	req.Header.Set("X-Garrison-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Garrison-Unit", f.unit)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Garrison-Secret", hook.Secret)
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

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
