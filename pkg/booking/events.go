package booking

import "context"

// BookingEventType names a committed booking transition.
type BookingEventType string

const (
	BookingEventConfirmed BookingEventType = "booking.confirmed"
	BookingEventCancelled BookingEventType = "booking.cancelled"
)

// BookingEvent is published after a booking transition commits.
type BookingEvent struct {
	Type            BookingEventType `json:"type"`
	BookingID       BookingID        `json:"booking_id"`
	UserID          UserID           `json:"user_id"`
	LessonID        LessonID         `json:"lesson_id"`
	CardID          CardID           `json:"card_id,omitempty"`
	Classes         int              `json:"classes"`
	OccurredUnixUTC int64            `json:"occurred_at"`
}

// EventPublisher delivers committed booking events to an external broker.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, event BookingEvent) error
}
