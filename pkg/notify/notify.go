// Package notify carries the Notification Gateway contract and an
// audited dispatcher. Every send — delivered or failed — is persisted
// to the ledger so the human-review trail is replayable.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quorumfi/finagent/pkg/ledger"
)

// Action is an actionable response attached to a human-review prompt.
type Action struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Gateway delivers human-review prompts with actionable responses.
// The real gateway is an external collaborator.
type Gateway interface {
	Send(ctx context.Context, channel, message string, actions []Action) (notificationID string, err error)
}

// Record is the audit payload persisted for every dispatch attempt.
type Record struct {
	NotificationID string    `json:"notification_id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	Channel        string    `json:"channel"`
	Message        string    `json:"message"`
	Actions        []Action  `json:"actions,omitempty"`
	Delivered      bool      `json:"delivered"`
	Error          string    `json:"error,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Dispatcher wraps a Gateway with rate limiting and ledger-backed
// auditing.
type Dispatcher struct {
	gateway Gateway
	ledger  ledger.Ledger
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDispatcher creates an audited dispatcher. perMinute bounds the
// notification rate; 0 disables limiting.
func NewDispatcher(gateway Gateway, l ledger.Ledger, perMinute int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &Dispatcher{
		gateway: gateway,
		ledger:  l,
		limiter: limiter,
		logger:  logger.With("component", "notify"),
	}
}

// Send delivers a prompt and persists the attempt. A gateway failure is
// returned to the caller but still audited.
func (d *Dispatcher) Send(ctx context.Context, eventID, channel, message string, actions []Action) (string, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("notification rate limit: %w", err)
		}
	}

	rec := Record{
		EventID: eventID,
		Channel: channel,
		Message: message,
		Actions: actions,
		SentAt:  time.Now().UTC(),
	}

	id, sendErr := d.gateway.Send(ctx, channel, message, actions)
	if sendErr != nil {
		rec.Error = sendErr.Error()
	} else {
		rec.NotificationID = id
		rec.Delivered = true
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return id, fmt.Errorf("marshal notification record: %w", err)
	}
	if _, _, err := d.ledger.Append(ctx, ledger.Entry{
		Type:    ledger.EntryNotification,
		EventID: eventID,
		Payload: payload,
	}); err != nil {
		// Audit failure is a hard error; an unaudited prompt is worse
		// than an undelivered one.
		return id, fmt.Errorf("audit notification: %w", err)
	}

	if sendErr != nil {
		d.logger.Warn("notification delivery failed", "event_id", eventID, "channel", channel, "error", sendErr)
		return "", sendErr
	}
	d.logger.Debug("notification sent", "event_id", eventID, "channel", channel, "notification_id", id)
	return id, nil
}

// LogGateway is a development gateway that logs instead of delivering.
type LogGateway struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Record
}

// NewLogGateway creates a gateway that records sends in memory.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGateway{logger: logger.With("component", "notify.log")}
}

// Send implements Gateway.
func (g *LogGateway) Send(ctx context.Context, channel, message string, actions []Action) (string, error) {
	_ = ctx
	id := uuid.New().String()
	g.mu.Lock()
	g.sent = append(g.sent, Record{NotificationID: id, Channel: channel, Message: message, Actions: actions, Delivered: true, SentAt: time.Now().UTC()})
	g.mu.Unlock()
	g.logger.Info("notification", "channel", channel, "message", message, "actions", len(actions))
	return id, nil
}

// Sent returns a copy of the records sent so far.
func (g *LogGateway) Sent() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Record, len(g.sent))
	copy(out, g.sent)
	return out
}
