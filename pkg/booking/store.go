package booking

import "context"

// Store is the persistence contract of the booking core.
//
// Methods that take row locks (GetActiveLesson, FindBooking, GetConfirmedBooking,
// ListActiveCards, GetCard) only hold them when called on the transaction store
// handed to WithTx. Compare-and-set updates return ErrStaleWrite when no row matched.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	ResolveUserID(ctx context.Context, openID OpenID) (UserID, error)
	UpsertUser(ctx context.Context, openID OpenID, profile UserProfile) (UserID, error)

	GetActiveLesson(ctx context.Context, lessonID LessonID) (Lesson, error)
	ListLessons(ctx context.Context, fromUnixUTC int64, toUnixUTC int64) ([]Lesson, error)
	CountConfirmedBookings(ctx context.Context, lessonIDs []LessonID) (map[LessonID]int, error)

	FindBooking(ctx context.Context, userID UserID, lessonID LessonID) (Booking, error)
	GetConfirmedBooking(ctx context.Context, bookingID BookingID, userID UserID) (Booking, error)
	InsertBooking(ctx context.Context, userID UserID, lessonID LessonID, atUnixUTC int64) (BookingID, error)
	UpdateBookingStatus(ctx context.Context, bookingID BookingID, from BookingStatus, to BookingStatus, atUnixUTC int64) error
	ListUserBookings(ctx context.Context, userID UserID, lessonIDs []LessonID) ([]Booking, error)
	CountUserBookingsByStatus(ctx context.Context, userID UserID) (map[BookingStatus]int, error)

	ListActivePlans(ctx context.Context) ([]Plan, error)
	GetActivePlan(ctx context.Context, planID PlanID) (Plan, error)

	ListActiveCards(ctx context.Context, userID UserID, atUnixUTC int64) ([]Card, error)
	GetCard(ctx context.Context, cardID CardID) (Card, error)
	InsertCard(ctx context.Context, card NewCard) (CardID, error)
	UpdateCardRemaining(ctx context.Context, cardID CardID, from int, to int) error
	ListCards(ctx context.Context, userID UserID) ([]Card, error)
	ExpireCards(ctx context.Context, atUnixUTC int64) (int, error)

	InsertUsage(ctx context.Context, usage UsageRecord) (UsageID, error)
	FindConsumeUsage(ctx context.Context, bookingID BookingID) (UsageRecord, error)
	UpdateUsageType(ctx context.Context, usageID UsageID, from UsageType, to UsageType) error
	ListUsage(ctx context.Context, userID UserID, cardID *CardID) ([]UsageRecord, error)
}

// SnapshotStore is implemented by stores that can run fn against one
// consistent read-only view. Readers fall back to WithTx without it.
type SnapshotStore interface {
	WithSnapshot(ctx context.Context, fn func(ctx context.Context, snapshot Store) error) error
}
