package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lexreach/tierbilling/internal/logger"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	contextKeyWideEvent contextKey = "wide_event"
	contextKeyTraceID   contextKey = "trace_id"
)

// WideEvent is a single structured log entry covering one request. Handlers
// enrich it as the request moves through the billing engine and it is
// emitted once at the end.
type WideEvent struct {
	TraceID   string    `json:"trace_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	HTTPMethod     string `json:"http_method,omitempty"`
	HTTPPath       string `json:"http_path,omitempty"`
	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	HTTPDurationMs int64  `json:"http_duration_ms,omitempty"`

	// Webhook context
	StripeEventID   string `json:"stripe_event_id,omitempty"`
	StripeEventType string `json:"stripe_event_type,omitempty"`
	SubscriptionID  string `json:"subscription_id,omitempty"`
	AttorneyID      string `json:"attorney_id,omitempty"`
	SyncOutcome     string `json:"sync_outcome,omitempty"`
	PhaseIndex      *int   `json:"phase_index,omitempty"`

	Error          string `json:"error,omitempty"`
	ErrorStage     string `json:"error_stage,omitempty"`
	Acknowledged   bool   `json:"acknowledged,omitempty"`
	PanicRecovered bool   `json:"panic_recovered,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func NewWideEvent(eventType string) *WideEvent {
	return &WideEvent{
		TraceID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

func WithContext(ctx context.Context, event *WideEvent) context.Context {
	ctx = context.WithValue(ctx, contextKeyWideEvent, event)
	ctx = context.WithValue(ctx, contextKeyTraceID, event.TraceID)
	return ctx
}

func FromContext(ctx context.Context) *WideEvent {
	if event, ok := ctx.Value(contextKeyWideEvent).(*WideEvent); ok {
		return event
	}
	return nil
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(contextKeyTraceID).(string); ok {
		return traceID
	}
	return ""
}

func EnrichHTTP(ctx context.Context, method, path string) {
	if event := FromContext(ctx); event != nil {
		event.HTTPMethod = method
		event.HTTPPath = path
	}
}

func EnrichHTTPStatus(ctx context.Context, statusCode int) {
	if event := FromContext(ctx); event != nil {
		event.HTTPStatusCode = statusCode
	}
}

func EnrichHTTPDuration(ctx context.Context, duration time.Duration) {
	if event := FromContext(ctx); event != nil {
		event.HTTPDurationMs = duration.Milliseconds()
	}
}

func EnrichWebhook(ctx context.Context, eventID, eventType string) {
	if event := FromContext(ctx); event != nil {
		event.StripeEventID = eventID
		event.StripeEventType = eventType
	}
}

func EnrichSubscription(ctx context.Context, subscriptionID string) {
	if event := FromContext(ctx); event != nil {
		event.SubscriptionID = subscriptionID
	}
}

func EnrichAttorney(ctx context.Context, attorneyID string) {
	if event := FromContext(ctx); event != nil {
		event.AttorneyID = attorneyID
	}
}

func EnrichSync(ctx context.Context, outcome string, phaseIndex int) {
	if event := FromContext(ctx); event != nil {
		event.SyncOutcome = outcome
		event.PhaseIndex = &phaseIndex
	}
}

func EnrichError(ctx context.Context, err error, stage string) {
	if event := FromContext(ctx); event != nil {
		if err != nil {
			event.Error = err.Error()
			event.ErrorStage = stage
		}
	}
}

// EnrichAcknowledged flags an error that was logged but not retried.
func EnrichAcknowledged(ctx context.Context) {
	if event := FromContext(ctx); event != nil {
		event.Acknowledged = true
	}
}

func EnrichPanic(ctx context.Context) {
	if event := FromContext(ctx); event != nil {
		event.PanicRecovered = true
	}
}

func EnrichMetadata(ctx context.Context, key string, value interface{}) {
	if event := FromContext(ctx); event != nil {
		event.Metadata[key] = value
	}
}

// Emit writes the WideEvent through the process logger.
func Emit(ctx context.Context) {
	event := FromContext(ctx)
	if event == nil {
		return
	}

	level := zerolog.InfoLevel
	switch {
	case event.PanicRecovered, event.Error != "" && !event.Acknowledged:
		level = zerolog.ErrorLevel
	case event.Error != "":
		level = zerolog.WarnLevel
	}

	e := logger.Log.WithLevel(level).
		Str("trace_id", event.TraceID).
		Str("event_type", event.EventType).
		Time("started_at", event.Timestamp)

	if event.HTTPMethod != "" {
		e = e.Str("http_method", event.HTTPMethod).Str("http_path", event.HTTPPath)
	}
	if event.HTTPStatusCode != 0 {
		e = e.Int("http_status_code", event.HTTPStatusCode)
	}
	if event.HTTPDurationMs != 0 {
		e = e.Int64("http_duration_ms", event.HTTPDurationMs)
	}

	if event.StripeEventID != "" {
		e = e.Str("stripe_event_id", event.StripeEventID).Str("stripe_event_type", event.StripeEventType)
	}
	if event.SubscriptionID != "" {
		e = e.Str("subscription_id", event.SubscriptionID)
	}
	if event.AttorneyID != "" {
		e = e.Str("attorney_id", event.AttorneyID)
	}
	if event.SyncOutcome != "" {
		e = e.Str("sync_outcome", event.SyncOutcome)
	}
	if event.PhaseIndex != nil {
		e = e.Int("phase_index", *event.PhaseIndex)
	}

	if event.Error != "" {
		e = e.Str("error", event.Error).Str("error_stage", event.ErrorStage).Bool("acknowledged", event.Acknowledged)
	}
	if event.PanicRecovered {
		e = e.Bool("panic_recovered", true)
	}
	if len(event.Metadata) > 0 {
		e = e.Interface("metadata", event.Metadata)
	}

	e.Msg("wide_event")
}
