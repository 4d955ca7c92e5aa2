// Package oplog renders domain operation logs with zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	messageOperation = "booking operation"
	messageAnomaly   = "booking data anomaly"
	messagePublish   = "booking event publish failed"
)

// ZapLogger adapts zap to booking.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// LogOperation writes one line per operation: info when it succeeded, warn when it was
// rejected for a business reason, error otherwise.
func (adapter *ZapLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := operationFields(entry)
	switch entry.Status {
	case booking.OperationStatusOK:
		adapter.logger.Info(messageOperation, fields...)
	case booking.OperationStatusRejected:
		adapter.logger.Warn(messageOperation, fields...)
	default:
		adapter.logger.Error(messageOperation, fields...)
	}
	if entry.Anomaly != "" {
		adapter.logger.Warn(messageAnomaly,
			zap.String("operation", entry.Operation),
			zap.String("anomaly", entry.Anomaly),
			zap.Int64("booking_id", entry.BookingID.Int64()),
			zap.Int64("card_id", entry.CardID.Int64()),
		)
	}
	if entry.PublishError != nil {
		adapter.logger.Warn(messagePublish,
			zap.String("operation", entry.Operation),
			zap.Int64("booking_id", entry.BookingID.Int64()),
			zap.Error(entry.PublishError),
		)
	}
}

func operationFields(entry booking.OperationLog) []zapcore.Field {
	fields := []zapcore.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.OpenID.IsZero() {
		fields = append(fields, zap.String("open_id", entry.OpenID.String()))
	}
	fields = appendID(fields, "user_id", entry.UserID.Int64())
	fields = appendID(fields, "lesson_id", entry.LessonID.Int64())
	fields = appendID(fields, "booking_id", entry.BookingID.Int64())
	fields = appendID(fields, "card_id", entry.CardID.Int64())
	fields = appendID(fields, "plan_id", entry.PlanID.Int64())
	if entry.Classes != 0 {
		fields = append(fields, zap.Int("classes", entry.Classes))
	}
	if entry.Count != 0 {
		fields = append(fields, zap.Int("count", entry.Count))
	}
	if entry.Error != nil {
		fields = append(fields, zap.String("code", booking.ErrorCode(entry.Error)), zap.Error(entry.Error))
	}
	return fields
}

func appendID(fields []zapcore.Field, key string, value int64) []zapcore.Field {
	if value == 0 {
		return fields
	}
	return append(fields, zap.Int64(key, value))
}
