package gormstore

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User mirrors the users table.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	OpenID    string    `gorm:"column:open_id;not null;uniqueIndex:uniq_users_open_id"`
	NickName  *string   `gorm:"column:nick_name"`
	AvatarURL *string   `gorm:"column:avatar_url"`
	Phone     *string   `gorm:"column:phone"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Lesson mirrors the lessons table. Lessons are admin-managed; the store only reads them.
type Lesson struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Title       string    `gorm:"not null"`
	TeacherID   int64     `gorm:"not null"`
	LocationID  int64     `gorm:"not null"`
	LessonType  string    `gorm:"not null"`
	StartTime   time.Time `gorm:"not null;index:idx_lessons_active_start,priority:2"`
	EndTime     time.Time `gorm:"not null"`
	MaxStudents int       `gorm:"not null;check:chk_lessons_max_students,max_students >= 0"`
	IsActive    bool      `gorm:"not null;index:idx_lessons_active_start,priority:1"`
}

func (Lesson) TableName() string { return "lessons" }

// Booking mirrors the bookings table; one row per (user, lesson).
type Booking struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	UserID          int64     `gorm:"not null;uniqueIndex:uniq_bookings_user_lesson,priority:1"`
	LessonID        int64     `gorm:"not null;uniqueIndex:uniq_bookings_user_lesson,priority:2;index:idx_bookings_lesson_status,priority:1"`
	Status          string    `gorm:"not null;index:idx_bookings_lesson_status,priority:2"`
	BookingTime     time.Time `gorm:"not null"`
	StatusChangedAt time.Time `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

// MembershipPlan mirrors the membership_plans table.
type MembershipPlan struct {
	ID                    int64  `gorm:"primaryKey;autoIncrement"`
	Name                  string `gorm:"not null"`
	Description           string `gorm:"not null"`
	CardType              string `gorm:"not null"`
	ValidityDays          int    `gorm:"not null"`
	TotalClasses          *int
	ApplicableLessonTypes datatypes.JSON
	MaxBookingsPerDay     *int
	PriceCents            int64 `gorm:"not null"`
	SortOrder             int   `gorm:"not null"`
	IsActive              bool  `gorm:"not null"`
}

func (MembershipPlan) TableName() string { return "membership_plans" }

// UserMembershipCard mirrors the user_membership_cards table. Plan terms are
// copied at purchase so later plan edits do not reach issued cards.
type UserMembershipCard struct {
	ID                    int64  `gorm:"primaryKey;autoIncrement"`
	UserID                int64  `gorm:"not null;index:idx_cards_user_status,priority:1"`
	PlanID                int64  `gorm:"not null"`
	CardNumber            string `gorm:"not null;uniqueIndex:uniq_cards_card_number"`
	Status                string `gorm:"not null;index:idx_cards_user_status,priority:2"`
	CardType              string `gorm:"not null"`
	PlanName              string `gorm:"not null"`
	ValidityDays          int    `gorm:"not null"`
	TotalClasses          *int
	RemainingClasses      *int `gorm:"check:chk_cards_remaining_classes,remaining_classes >= 0"`
	ApplicableLessonTypes datatypes.JSON
	MaxBookingsPerDay     *int
	ActivatedAt           time.Time `gorm:"not null"`
	ExpiresAt             time.Time `gorm:"not null;index"`
	PurchasePriceCents    int64     `gorm:"not null"`
	ActualPaidCents       int64     `gorm:"not null"`
	DiscountCents         int64     `gorm:"not null"`
	CreatedAt             time.Time `gorm:"not null"`
}

func (UserMembershipCard) TableName() string { return "user_membership_cards" }

// MembershipCardUsage mirrors the append-only membership_card_usage table.
type MembershipCardUsage struct {
	ID                     int64  `gorm:"primaryKey;autoIncrement"`
	UserCardID             int64  `gorm:"not null;index"`
	UserID                 int64  `gorm:"not null;index:idx_usage_user_used,priority:1"`
	BookingID              int64  `gorm:"not null;index:idx_usage_booking_type,priority:1"`
	LessonID               int64  `gorm:"not null"`
	UsageType              string `gorm:"not null;index:idx_usage_booking_type,priority:2"`
	ClassesConsumed        int    `gorm:"not null"`
	RemainingClassesBefore *int
	RemainingClassesAfter  *int
	UsedAt                 time.Time `gorm:"not null;index:idx_usage_user_used,priority:2"`
}

func (MembershipCardUsage) TableName() string { return "membership_card_usage" }

// AutoMigrate creates or updates every table the store uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Lesson{},
		&Booking{},
		&MembershipPlan{},
		&UserMembershipCard{},
		&MembershipCardUsage{},
	)
}
