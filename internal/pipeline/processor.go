// Package pipeline turns delivered messages into forwarded decision events.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/audit"
	"github.com/nhle/approval-watcher/internal/extract"
	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/normalize"
)

// Forwarder delivers a decision event downstream.
type Forwarder interface {
	Forward(ctx context.Context, ev model.DecisionEvent) error
}

// Result describes what happened to one message.
type Result struct {
	Event model.DecisionEvent
	// Empty is set when the message had no usable body.
	Empty      bool
	Forwarded  bool
	ForwardErr error
}

// Processor runs normalize, extract, audit and forward for one message.
// It holds no per-message state and is safe for concurrent use.
type Processor struct {
	forwarder Forwarder
	sink      audit.Sink
	logger    *zap.Logger
}

// NewProcessor creates a Processor. A nil forwarder only parses.
func NewProcessor(forwarder Forwarder, sink audit.Sink, logger *zap.Logger) *Processor {
	if sink == nil {
		sink = audit.Multi{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		forwarder: forwarder,
		sink:      sink,
		logger:    logger.Named("pipeline"),
	}
}

// Process handles msg. Forwarding failures are logged and reported in the
// result; they never propagate as errors.
func (p *Processor) Process(ctx context.Context, msg model.RawMessage) Result {
	text, ok := normalize.Normalize(msg)
	if !ok {
		p.logger.Warn("email content is empty, skipping",
			zap.Uint32("uid", msg.UID),
			zap.String("message_id", msg.MessageID),
		)
		processedTotal.WithLabelValues(resultEmpty).Inc()
		return Result{Empty: true}
	}

	fields := extract.Extract(text)
	ev := fields.Event(msg.Sender())

	p.sink.EmailParsed(ctx, model.ParsedEmail{
		MessageID:  msg.MessageID,
		UID:        msg.UID,
		Subject:    msg.Subject,
		Event:      ev,
		HasComment: fields.HasComment,
	})

	res := Result{Event: ev}
	if !ev.Forwardable() || p.forwarder == nil {
		processedTotal.WithLabelValues(resultParsed).Inc()
		return res
	}

	if err := p.forwarder.Forward(ctx, ev); err != nil {
		res.ForwardErr = err
		processedTotal.WithLabelValues(resultForwardFailed).Inc()
		return res
	}

	res.Forwarded = true
	processedTotal.WithLabelValues(resultForwarded).Inc()
	return res
}
