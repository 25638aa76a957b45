// Package audit records parsed replies and calls to the workflow API.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/store"
)

// Sink is the write-only audit collaborator. Implementations must not
// block for long and must not fail the caller.
type Sink interface {
	EmailParsed(ctx context.Context, rec model.ParsedEmail)
	ExternalCall(ctx context.Context, call model.ExternalCall)
}

// LogSink writes audit records as structured log entries.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink. A nil logger discards records.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// EmailParsed implements Sink.
func (s *LogSink) EmailParsed(_ context.Context, rec model.ParsedEmail) {
	fields := []zap.Field{
		zap.String("from", rec.Event.FromAddress),
		zap.String("id", rec.Event.RequestID),
		zap.String("comment", rec.Event.Comment),
		zap.Bool("has_comment", rec.HasComment),
		zap.String("message_id", rec.MessageID),
		zap.Uint32("uid", rec.UID),
		zap.Boolp("approved", rec.Event.Approved),
	}
	s.logger.Info("parsed email content", fields...)
}

// ExternalCall implements Sink.
func (s *LogSink) ExternalCall(_ context.Context, call model.ExternalCall) {
	fields := []zap.Field{
		zap.String("call_id", call.ID),
		zap.String("request_id", call.RequestID),
		zap.String("url", call.URL),
		zap.String("method", call.Method),
		zap.String("outcome", call.Outcome),
	}
	if len(call.Headers) > 0 {
		fields = append(fields, zap.Any("headers", call.Headers))
	}
	if call.Body != nil {
		fields = append(fields, zap.Any("body", call.Body))
	}
	if call.Outcome != model.OutcomePending {
		fields = append(fields,
			zap.Int("status", call.StatusCode),
			zap.Duration("duration", call.Duration),
		)
	}
	if call.Error != "" {
		fields = append(fields, zap.String("error", call.Error))
	}

	s.logger.Info("external API call made", fields...)
}

// journalTimeout bounds a single journal write.
const journalTimeout = 5 * time.Second

// Journal persists external call metadata to a Store.
type Journal struct {
	store  store.Store
	logger *zap.Logger
}

// NewJournal creates a Journal over s.
func NewJournal(s store.Store, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{store: s, logger: logger}
}

// EmailParsed implements Sink. Parsed content is not journaled.
func (j *Journal) EmailParsed(context.Context, model.ParsedEmail) {}

// ExternalCall implements Sink. Write failures are logged and dropped.
func (j *Journal) ExternalCall(ctx context.Context, call model.ExternalCall) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if err := j.store.RecordCall(ctx, call); err != nil {
		j.logger.Warn("journaling external call failed",
			zap.String("call_id", call.ID), zap.Error(err))
	}
}

// Multi fans records out to several sinks in order.
type Multi []Sink

// EmailParsed implements Sink.
func (m Multi) EmailParsed(ctx context.Context, rec model.ParsedEmail) {
	for _, s := range m {
		s.EmailParsed(ctx, rec)
	}
}

// ExternalCall implements Sink.
func (m Multi) ExternalCall(ctx context.Context, call model.ExternalCall) {
	for _, s := range m {
		s.ExternalCall(ctx, call)
	}
}
