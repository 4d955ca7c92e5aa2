package grpcserver

// BookRequest asks for a seat in a lesson.
type BookRequest struct {
	LessonID int64  `json:"lesson_id"`
	OpenID   string `json:"open_id"`
}

type BookResponse struct {
	BookingID     int64 `json:"booking_id"`
	AlreadyBooked bool  `json:"already_booked"`
}

// CancelRequest cancels a confirmed booking owned by the caller.
type CancelRequest struct {
	BookingID int64  `json:"booking_id"`
	OpenID    string `json:"open_id"`
}

type CancelResponse struct {
	CancelledID     int64 `json:"cancelled_id"`
	Refunded        bool  `json:"refunded"`
	RefundedClasses int   `json:"refunded_classes"`
}

// ListLessonsRequest selects the window starting at WindowStartUnixUTC; OpenID is optional.
type ListLessonsRequest struct {
	WindowStartUnixUTC int64  `json:"window_start_unix_utc"`
	OpenID             string `json:"open_id,omitempty"`
}

type ListLessonsResponse struct {
	Lessons []LessonMessage `json:"lessons"`
}

type LessonMessage struct {
	LessonID        int64  `json:"lesson_id"`
	Title           string `json:"title"`
	LessonType      string `json:"lesson_type"`
	TeacherID       int64  `json:"teacher_id"`
	LocationID      int64  `json:"location_id"`
	StartUnixUTC    int64  `json:"start_unix_utc"`
	EndUnixUTC      int64  `json:"end_unix_utc"`
	MaxStudents     int    `json:"max_students"`
	CurrentStudents int    `json:"current_students"`
	IsBooked        bool   `json:"is_booked"`
	BookingID       int64  `json:"booking_id,omitempty"`
}
