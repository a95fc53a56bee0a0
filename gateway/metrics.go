package gateway

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Abhiram-108/minitrello/domain"
)

const (
	mutationSpanName    = "gateway.mutation"
	mutationEventName   = "board.mutation"
	mutationEventDomain = "minitrello.gateway"
	tracerName          = "github.com/Abhiram-108/minitrello/gateway"
)

const (
	stageAuthenticate = "authenticate"
	stageAuthorize    = "authorize"
	stageValidate     = "validate"
	stageApply        = "apply"
	stageRecord       = "record"
	stageBroadcast    = "broadcast"
)

type mutationMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	kind       domain.MutationKind
	boardID    string
	userID     string
	stages     map[string]time.Duration
	recipients int
	errorStage string
	duplicate  bool
	recordFail bool
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, m domain.Mutation) (*mutationMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, mutationSpanName)
	return &mutationMetrics{
		logger:  logger,
		span:    span,
		start:   time.Now(),
		kind:    m.Kind,
		boardID: mutationBoard(m),
		stages:  make(map[string]time.Duration, 5),
	}, ctx
}

func mutationBoard(m domain.Mutation) string {
	switch {
	case m.BoardID != "":
		return m.BoardID
	case m.CardMoved != nil:
		return m.CardMoved.BoardID
	case m.CommentAdded != nil:
		return m.CommentAdded.BoardID
	case m.TypingSignal != nil:
		return m.TypingSignal.BoardID
	}
	return ""
}

func (m *mutationMetrics) Observe(stage string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.stages[stage] += d
}

func (m *mutationMetrics) SetErrorStage(stage string) {
	if stage == "" || m.errorStage != "" {
		return
	}
	m.errorStage = stage
}

func (m *mutationMetrics) SetUser(id string)   { m.userID = id }
func (m *mutationMetrics) SetRecipients(n int) { m.recipients = n }
func (m *mutationMetrics) SetDuplicate()       { m.duplicate = true }
func (m *mutationMetrics) SetRecordFailed()    { m.recordFail = true }

// Log emits one observability event and ends the span.
func (m *mutationMetrics) Log(err error) {
	if m == nil {
		return
	}
	defer m.span.End()

	attrs := map[string]any{
		"mutation.kind":                  m.kind.String(),
		"board.id":                       m.boardID,
		"minitrello.mutation.total_ms":   durationToMillis(time.Since(m.start)),
		"minitrello.mutation.recipients": m.recipients,
		"minitrello.mutation.duplicate":  m.duplicate,
	}
	if m.userID != "" {
		attrs["user.id"] = m.userID
	}
	for stage, d := range m.stages {
		attrs["minitrello.mutation."+stage+"_ms"] = durationToMillis(d)
	}
	if m.recordFail {
		attrs["minitrello.mutation.record_failed"] = true
	}
	if m.errorStage != "" {
		attrs["minitrello.mutation.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
		attrs["error.kind"] = string(domain.KindOf(err))
	}

	sevText, sevNumber := severityForError(err)

	kvs := make([]attribute.KeyValue, 0, len(attrs)+4)
	for k, v := range attrs {
		kvs = append(kvs, toAttribute(k, v))
	}
	m.span.SetAttributes(kvs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", sevText),
		attribute.Int("severity_number", sevNumber),
	}, kvs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
	if err != nil {
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"attributes":      attrs,
		"severity_text":   sevText,
		"severity_number": sevNumber,
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch sevText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

// severityForError maps caller mistakes to WARN and infrastructure
// failures to ERROR.
func severityForError(err error) (string, int) {
	if err == nil {
		return "INFO", 9
	}
	switch domain.KindOf(err) {
	case domain.KindStoreUnavailable, domain.KindInternal:
		return "ERROR", 17
	default:
		return "WARN", 13
	}
}

func toAttribute(k string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(k, val)
	case bool:
		return attribute.Bool(k, val)
	case int:
		return attribute.Int(k, val)
	case float64:
		return attribute.Float64(k, val)
	default:
		return attribute.String(k, "")
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
