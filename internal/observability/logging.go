package observability

import (
	"context"
	"maps"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/model"
)

type loggerKey struct{}

// Log field names shared by every docflow component.
const (
	FieldDocumentID    = "document_id"
	FieldViewID        = "view_id"
	FieldSubjectID     = "subject_id"
	FieldCorrelationID = "correlation_id"
	FieldTraceID       = "trace_id"
)

const redacted = "[REDACTED]"

// NewLogger builds the service logger: JSON to stdout at cfg.LogLevel, with
// unknown levels falling back to info. Every entry carries service=docflow.
//
// Committed transitions and view lifecycle log at info. Remote rejections
// and refused actions log at warn. Retries and failed transition payloads
// log at debug.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]any{"service": "docflow"},
	}
	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback. A nil fallback
// yields a no-op logger.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// RequestLogger adds the caller's subject, correlation id and trace id.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String(FieldSubjectID, rctx.SubjectID),
		zap.String(FieldCorrelationID, rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String(FieldTraceID, rctx.TraceID))
	}
	return logger.With(fields...)
}

// DocumentLogger scopes the context logger to one document.
func DocumentLogger(ctx context.Context, fallback *zap.Logger, documentID string) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	if documentID == "" {
		return logger
	}
	return logger.With(zap.String(FieldDocumentID, documentID))
}

// ViewLogger scopes the context logger to a mounted view and its document.
// Empty ids are omitted.
func ViewLogger(ctx context.Context, fallback *zap.Logger, viewID, documentID string) *zap.Logger {
	logger := DocumentLogger(ctx, fallback, documentID)
	if viewID == "" {
		return logger
	}
	return logger.With(zap.String(FieldViewID, viewID))
}

// sensitiveFields never reach the logs in clear text, whatever the payload.
var sensitiveFields = map[string]bool{
	"authorization": true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"id_token":      true,
	"password":      true,
	"secret":        true,
	"cookie":        true,
}

// RedactBody copies a transition payload for debug logging, replacing
// credentials and any extra field names with "[REDACTED]". Nested objects
// are redacted too.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	deny := maps.Clone(sensitiveFields)
	for _, f := range extra {
		deny[f] = true
	}
	return redact(body, deny)
}

func redact(body map[string]any, deny map[string]bool) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		switch nested := v.(type) {
		case map[string]any:
			if deny[k] {
				out[k] = redacted
			} else {
				out[k] = redact(nested, deny)
			}
		default:
			if deny[k] {
				out[k] = redacted
			} else {
				out[k] = v
			}
		}
	}
	return out
}
