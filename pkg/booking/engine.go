package booking

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine books and cancels seats. Each call is one store transaction spanning the
// capacity check, the card debit or credit, and the booking row itself.
type Engine struct {
	store     Store
	nowFn     func() int64
	logger    OperationLogger
	publisher EventPublisher
	tracer    trace.Tracer
}

// NewEngine wires an Engine.
func NewEngine(store Store, now func() int64, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	engine := &Engine{store: store, nowFn: now, tracer: otel.Tracer(tracerName)}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// Book reserves a seat in the lesson for the user behind openID and debits the
// soonest-expiring eligible card. Booking a lesson the user already holds returns
// the existing booking with AlreadyBooked set and charges nothing.
func (engine *Engine) Book(ctx context.Context, lessonID LessonID, openID OpenID) (BookingOutcome, error) {
	ctx, span := engine.tracer.Start(ctx, spanBook, trace.WithAttributes(
		attribute.Int64("booking.lesson_id", lessonID.Int64()),
	))
	defer span.End()

	var (
		outcome BookingOutcome
		usage   UsageRecord
		userID  UserID
	)
	transactionError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		outcome = BookingOutcome{}
		usage = UsageRecord{}
		resolvedUserID, err := transactionStore.ResolveUserID(ctx, openID)
		if err != nil {
			return err
		}
		userID = resolvedUserID

		existing, err := transactionStore.FindBooking(ctx, userID, lessonID)
		hasExisting := err == nil
		if err != nil && !errors.Is(err, ErrBookingNotFound) {
			return err
		}
		if hasExisting && existing.Status != BookingStatusCancelled {
			outcome = BookingOutcome{BookingID: existing.ID, AlreadyBooked: true}
			return nil
		}

		tracker := &CapacityTracker{store: transactionStore}
		lesson, err := tracker.RequireSeat(ctx, lessonID)
		if err != nil {
			return err
		}

		ledger := &MembershipLedger{store: transactionStore, nowFn: engine.nowFn}
		card, found, err := ledger.FindEligibleCard(ctx, userID, lesson.LessonType)
		if err != nil {
			return err
		}
		if !found {
			return ErrNoValidMembership
		}

		nowUnixUTC := engine.nowFn()
		var bookingID BookingID
		if hasExisting {
			if err := transactionStore.UpdateBookingStatus(ctx, existing.ID, BookingStatusCancelled, BookingStatusConfirmed, nowUnixUTC); err != nil {
				return err
			}
			bookingID = existing.ID
		} else {
			bookingID, err = transactionStore.InsertBooking(ctx, userID, lessonID, nowUnixUTC)
			if err != nil {
				return err
			}
		}

		debited, err := ledger.Debit(ctx, card.ID, bookingID, lessonID)
		if err != nil {
			return err
		}
		usage = debited
		outcome = BookingOutcome{BookingID: bookingID, CardID: card.ID}
		return nil
	})

	if errors.Is(transactionError, ErrBookingConflict) {
		// A concurrent request for the same (user, lesson) committed first.
		existing, err := engine.store.FindBooking(ctx, userID, lessonID)
		if err == nil && existing.Status == BookingStatusConfirmed {
			outcome = BookingOutcome{BookingID: existing.ID, AlreadyBooked: true}
			transactionError = nil
		}
	}

	operationError := classify(errorOperationEngine, errorSubjectBook, transactionError)
	var publishError error
	if operationError == nil && !outcome.AlreadyBooked {
		publishError = engine.publish(ctx, BookingEvent{
			Type:            BookingEventConfirmed,
			BookingID:       outcome.BookingID,
			UserID:          userID,
			LessonID:        lessonID,
			CardID:          outcome.CardID,
			Classes:         usage.ClassesConsumed,
			OccurredUnixUTC: engine.nowFn(),
		})
	}
	engine.finishSpan(span, outcome.BookingID, operationError)
	emitOperation(ctx, engine.logger, OperationLog{
		Operation:    operationBook,
		OpenID:       openID,
		UserID:       userID,
		LessonID:     lessonID,
		BookingID:    outcome.BookingID,
		CardID:       outcome.CardID,
		Classes:      usage.ClassesConsumed,
		PublishError: publishError,
		Error:        operationError,
	})
	if operationError != nil {
		return BookingOutcome{}, operationError
	}
	return outcome, nil
}

// Cancel releases a confirmed booking owned by the user behind openID and reverses
// its card debit. A missing consume row or card is tolerated and reported as an anomaly.
func (engine *Engine) Cancel(ctx context.Context, bookingID BookingID, openID OpenID) (CancelOutcome, error) {
	ctx, span := engine.tracer.Start(ctx, spanCancel, trace.WithAttributes(
		attribute.Int64("booking.id", bookingID.Int64()),
	))
	defer span.End()

	var (
		outcome CancelOutcome
		booking Booking
		userID  UserID
		cardID  CardID
		anomaly string
	)
	transactionError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		outcome = CancelOutcome{}
		cardID = 0
		anomaly = ""
		resolvedUserID, err := transactionStore.ResolveUserID(ctx, openID)
		if errors.Is(err, ErrUserNotFound) {
			return ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		userID = resolvedUserID

		booking, err = transactionStore.GetConfirmedBooking(ctx, bookingID, userID)
		if err != nil {
			return err
		}
		err = transactionStore.UpdateBookingStatus(ctx, booking.ID, BookingStatusConfirmed, BookingStatusCancelled, engine.nowFn())
		if errors.Is(err, ErrStaleWrite) {
			return ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		outcome.BookingID = booking.ID

		usage, err := transactionStore.FindConsumeUsage(ctx, booking.ID)
		if errors.Is(err, ErrUsageNotFound) {
			anomaly = anomalyRefundUsageMissing
			return nil
		}
		if err != nil {
			return err
		}
		cardID = usage.CardID

		ledger := &MembershipLedger{store: transactionStore, nowFn: engine.nowFn}
		credited, err := ledger.Credit(ctx, usage)
		if isMissingCard(err) {
			anomaly = anomalyRefundCardMissing
			return nil
		}
		if err != nil {
			return err
		}
		if credited.Clamped {
			anomaly = anomalyRefundClamped
		}
		outcome.Refunded = true
		outcome.RefundedClasses = credited.Restored
		return nil
	})

	operationError := classify(errorOperationEngine, errorSubjectCancel, transactionError)
	var publishError error
	if operationError == nil {
		publishError = engine.publish(ctx, BookingEvent{
			Type:            BookingEventCancelled,
			BookingID:       outcome.BookingID,
			UserID:          userID,
			LessonID:        booking.LessonID,
			CardID:          cardID,
			Classes:         outcome.RefundedClasses,
			OccurredUnixUTC: engine.nowFn(),
		})
	}
	engine.finishSpan(span, outcome.BookingID, operationError)
	emitOperation(ctx, engine.logger, OperationLog{
		Operation:    operationCancel,
		OpenID:       openID,
		UserID:       userID,
		LessonID:     booking.LessonID,
		BookingID:    bookingID,
		CardID:       cardID,
		Classes:      outcome.RefundedClasses,
		Anomaly:      anomaly,
		PublishError: publishError,
		Error:        operationError,
	})
	if operationError != nil {
		return CancelOutcome{}, operationError
	}
	return outcome, nil
}

func (engine *Engine) publish(ctx context.Context, event BookingEvent) error {
	if engine.publisher == nil {
		return nil
	}
	return engine.publisher.PublishBookingEvent(ctx, event)
}

func (engine *Engine) finishSpan(span trace.Span, bookingID BookingID, operationError error) {
	if bookingID != 0 {
		span.SetAttributes(attribute.Int64("booking.id", bookingID.Int64()))
	}
	if operationError == nil {
		span.SetStatus(otelcodes.Ok, "")
		return
	}
	span.SetAttributes(attribute.String("booking.error_code", ErrorCode(operationError)))
	if !IsBusinessError(operationError) {
		span.RecordError(operationError)
		span.SetStatus(otelcodes.Error, ErrorCode(operationError))
	}
}
