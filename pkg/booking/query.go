package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// MaxWindowStartUnixUTC is the latest accepted listing start, 9999-12-31T23:59:59Z.
const MaxWindowStartUnixUTC = int64(253402300799)

// QueryOption configures a QueryService instance.
type QueryOption func(*QueryService)

// WithLessonWindow overrides the listing window length in seconds.
func WithLessonWindow(windowSeconds int64) QueryOption {
	return func(service *QueryService) {
		if windowSeconds > 0 {
			service.windowSeconds = windowSeconds
		}
	}
}

// QueryService is the read path behind lesson listings.
type QueryService struct {
	store         Store
	windowSeconds int64
}

// NewQueryService wires a QueryService.
func NewQueryService(store Store, options ...QueryOption) (*QueryService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	service := &QueryService{store: store, windowSeconds: defaultLessonWindowSecond}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ListLessonsWithBookingStatus returns active lessons starting inside the window,
// annotated with the confirmed seat count and the viewer's own confirmed booking.
// A zero or unknown openID yields anonymous views. All reads share one snapshot.
func (service *QueryService) ListLessonsWithBookingStatus(ctx context.Context, windowStartUnixUTC int64, openID OpenID) ([]LessonView, error) {
	if windowStartUnixUTC < 0 || windowStartUnixUTC > MaxWindowStartUnixUTC {
		return nil, WrapError(errorOperationQuery, errorSubjectLessons, ErrorCode(ErrInvalidWindowStart), ErrInvalidWindowStart)
	}
	var views []LessonView
	err := service.readSnapshot(ctx, func(ctx context.Context, snapshot Store) error {
		listed, err := service.listLessons(ctx, snapshot, windowStartUnixUTC, openID)
		if err != nil {
			return err
		}
		views = listed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (service *QueryService) readSnapshot(ctx context.Context, fn func(ctx context.Context, snapshot Store) error) error {
	if snapshotStore, ok := service.store.(SnapshotStore); ok {
		return snapshotStore.WithSnapshot(ctx, fn)
	}
	return service.store.WithTx(ctx, fn)
}

func (service *QueryService) listLessons(ctx context.Context, store Store, windowStartUnixUTC int64, openID OpenID) ([]LessonView, error) {
	windowEndUnixUTC := windowStartUnixUTC + service.windowSeconds
	if windowEndUnixUTC < windowStartUnixUTC {
		windowEndUnixUTC = math.MaxInt64
	}
	lessons, err := store.ListLessons(ctx, windowStartUnixUTC, windowEndUnixUTC)
	if err != nil {
		return nil, err
	}
	views := make([]LessonView, 0, len(lessons))
	if len(lessons) == 0 {
		return views, nil
	}
	lessonIDs := make([]LessonID, 0, len(lessons))
	for _, lesson := range lessons {
		lessonIDs = append(lessonIDs, lesson.ID)
	}
	counts, err := store.CountConfirmedBookings(ctx, lessonIDs)
	if err != nil {
		return nil, err
	}
	ownBookings, err := viewerBookings(ctx, store, openID, lessonIDs)
	if err != nil {
		return nil, err
	}
	for _, lesson := range lessons {
		view := LessonView{Lesson: lesson, CurrentStudents: counts[lesson.ID]}
		if bookingID, booked := ownBookings[lesson.ID]; booked {
			bookingRef := bookingID
			view.IsBooked = true
			view.BookingID = &bookingRef
		}
		views = append(views, view)
	}
	return views, nil
}

func viewerBookings(ctx context.Context, store Store, openID OpenID, lessonIDs []LessonID) (map[LessonID]BookingID, error) {
	confirmed := make(map[LessonID]BookingID)
	if openID.IsZero() {
		return confirmed, nil
	}
	userID, err := store.ResolveUserID(ctx, openID)
	if errors.Is(err, ErrUserNotFound) {
		return confirmed, nil
	}
	if err != nil {
		return nil, err
	}
	bookings, err := store.ListUserBookings(ctx, userID, lessonIDs)
	if err != nil {
		return nil, err
	}
	for _, booking := range bookings {
		if booking.Status == BookingStatusConfirmed {
			confirmed[booking.LessonID] = booking.ID
		}
	}
	return confirmed, nil
}
