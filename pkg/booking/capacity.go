package booking

import (
	"context"
	"errors"
	"fmt"
)

// CapacityTracker answers seat questions from the live confirmed-booking count.
// Nothing is cached; each call reads the store it was built over.
type CapacityTracker struct {
	store Store
}

// NewCapacityTracker builds a tracker over store, which may be a transaction store.
func NewCapacityTracker(store Store) (*CapacityTracker, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &CapacityTracker{store: store}, nil
}

// CurrentConfirmedCount returns the number of confirmed bookings for the lesson.
func (tracker *CapacityTracker) CurrentConfirmedCount(ctx context.Context, lessonID LessonID) (int, error) {
	counts, err := tracker.store.CountConfirmedBookings(ctx, []LessonID{lessonID})
	if err != nil {
		return 0, err
	}
	return counts[lessonID], nil
}

// Capacity returns the lesson's seat limit; ok is false when the lesson is missing or inactive.
func (tracker *CapacityTracker) Capacity(ctx context.Context, lessonID LessonID) (int, bool, error) {
	lesson, err := tracker.store.GetActiveLesson(ctx, lessonID)
	if errors.Is(err, ErrLessonNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return lesson.MaxStudents, true, nil
}

// RequireSeat locks the lesson and fails with ErrLessonFull when no seat remains.
// Called on a transaction store, the lesson row lock serializes concurrent bookers
// so the count observed here stays valid until commit.
func (tracker *CapacityTracker) RequireSeat(ctx context.Context, lessonID LessonID) (Lesson, error) {
	lesson, err := tracker.store.GetActiveLesson(ctx, lessonID)
	if err != nil {
		return Lesson{}, err
	}
	confirmed, err := tracker.CurrentConfirmedCount(ctx, lessonID)
	if err != nil {
		return Lesson{}, err
	}
	if confirmed >= lesson.MaxStudents {
		return Lesson{}, ErrLessonFull
	}
	return lesson, nil
}
