package booking

import "context"

// Operation statuses reported in OperationLog.Status.
const (
	OperationStatusOK       = "ok"
	OperationStatusRejected = "rejected"
	OperationStatusError    = "error"
)

// OperationLogger records domain-level events emitted by state-changing operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one state-changing booking or membership operation.
type OperationLog struct {
	Operation string
	OpenID    OpenID
	UserID    UserID
	LessonID  LessonID
	BookingID BookingID
	CardID    CardID
	PlanID    PlanID
	Classes   int
	Count     int
	Status    string
	// Anomaly names a data-integrity problem tolerated by the operation.
	Anomaly      string
	PublishError error
	Error        error
}

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithEventPublisher wires a publisher for committed booking events.
func WithEventPublisher(publisher EventPublisher) EngineOption {
	return func(engine *Engine) {
		engine.publisher = publisher
	}
}

func emitOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = OperationStatusOK
		case IsBusinessError(entry.Error):
			entry.Status = OperationStatusRejected
		default:
			entry.Status = OperationStatusError
		}
	}
	logger.LogOperation(ctx, entry)
}
