package booking

import (
	"fmt"
	"strings"
)

// UserID identifies a registered user.
type UserID int64

// LessonID identifies a scheduled lesson.
type LessonID int64

// BookingID identifies a booking row.
type BookingID int64

// CardID identifies a membership card.
type CardID int64

// PlanID identifies a membership plan.
type PlanID int64

// UsageID identifies a membership usage record.
type UsageID int64

// AmountCents is an integer currency in cents.
type AmountCents int64

// OpenID is the external identity handle of a user.
type OpenID struct {
	value string
}

// NewOpenID validates and normalizes an external identity.
func NewOpenID(raw string) (OpenID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OpenID{}, fmt.Errorf("%w: empty value", ErrInvalidOpenID)
	}
	return OpenID{value: trimmed}, nil
}

// String returns the normalized identity.
func (openID OpenID) String() string {
	return openID.value
}

// IsZero reports whether the identity was never set.
func (openID OpenID) IsZero() bool {
	return openID.value == ""
}

// NewUserID validates a user id.
func NewUserID(raw int64) (UserID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidUserID)
	}
	return UserID(raw), nil
}

// NewLessonID validates a lesson id.
func NewLessonID(raw int64) (LessonID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidLessonID)
	}
	return LessonID(raw), nil
}

// NewBookingID validates a booking id.
func NewBookingID(raw int64) (BookingID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidBookingID)
	}
	return BookingID(raw), nil
}

// NewCardID validates a card id.
func NewCardID(raw int64) (CardID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCardID)
	}
	return CardID(raw), nil
}

// NewPlanID validates a plan id.
func NewPlanID(raw int64) (PlanID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPlanID)
	}
	return PlanID(raw), nil
}

// NewUsageID validates a usage id.
func NewUsageID(raw int64) (UsageID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidUsageID)
	}
	return UsageID(raw), nil
}

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 exposes the raw value.
func (id UserID) Int64() int64 { return int64(id) }

// Int64 exposes the raw value.
func (id LessonID) Int64() int64 { return int64(id) }

// Int64 exposes the raw value.
func (id BookingID) Int64() int64 { return int64(id) }

// Int64 exposes the raw value.
func (id CardID) Int64() int64 { return int64(id) }

// Int64 exposes the raw value.
func (id PlanID) Int64() int64 { return int64(id) }

// Int64 exposes the raw value.
func (id UsageID) Int64() int64 { return int64(id) }

// Int64 exposes the raw value.
func (amount AmountCents) Int64() int64 { return int64(amount) }

// BookingStatus defines the booking lifecycle.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// ParseBookingStatus validates a stored booking status.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch status := BookingStatus(strings.TrimSpace(raw)); status {
	case BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted, BookingStatusNoShow:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
	}
}

// CardStatus defines the membership card lifecycle.
type CardStatus string

const (
	CardStatusActive    CardStatus = "active"
	CardStatusExpired   CardStatus = "expired"
	CardStatusSuspended CardStatus = "suspended"
)

// ParseCardStatus validates a stored card status.
func ParseCardStatus(raw string) (CardStatus, error) {
	switch status := CardStatus(strings.TrimSpace(raw)); status {
	case CardStatusActive, CardStatusExpired, CardStatusSuspended:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCardStatus, raw)
	}
}

// CardType distinguishes unlimited passes from class packs.
type CardType string

const (
	CardTypeUnlimited  CardType = "unlimited"
	CardTypeCountBased CardType = "count_based"
)

// ParseCardType validates a stored card type.
func ParseCardType(raw string) (CardType, error) {
	switch cardType := CardType(strings.TrimSpace(raw)); cardType {
	case CardTypeUnlimited, CardTypeCountBased:
		return cardType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCardType, raw)
	}
}

// UsageType tags a usage record as a consumption or its reversal.
type UsageType string

const (
	UsageTypeConsume UsageType = "consume"
	UsageTypeRefund  UsageType = "refund"
)

// ParseUsageType validates a stored usage type.
func ParseUsageType(raw string) (UsageType, error) {
	switch usageType := UsageType(strings.TrimSpace(raw)); usageType {
	case UsageTypeConsume, UsageTypeRefund:
		return usageType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUsageType, raw)
	}
}

// UserProfile carries optional profile fields; nil keeps the stored value.
type UserProfile struct {
	NickName  *string
	AvatarURL *string
	Phone     *string
}

// User is a registered user.
type User struct {
	ID        UserID
	OpenID    OpenID
	NickName  string
	AvatarURL string
	Phone     string
}

// Lesson is a scheduled class.
type Lesson struct {
	ID           LessonID
	Title        string
	TeacherID    int64
	LocationID   int64
	LessonType   string
	StartUnixUTC int64
	EndUnixUTC   int64
	MaxStudents  int
	Active       bool
}

// Booking is a user's reservation of a seat.
type Booking struct {
	ID             BookingID
	UserID         UserID
	LessonID       LessonID
	Status         BookingStatus
	BookedUnixUTC  int64
	UpdatedUnixUTC int64
}

// Plan is a purchasable membership template.
type Plan struct {
	ID                    PlanID
	Name                  string
	Description           string
	Type                  CardType
	ValidityDays          int
	TotalClasses          *int
	ApplicableLessonTypes []string
	MaxBookingsPerDay     *int
	Price                 AmountCents
	SortOrder             int
	Active                bool
}

// Card is a user's membership entitlement.
type Card struct {
	ID                    CardID
	UserID                UserID
	PlanID                PlanID
	CardNumber            string
	Status                CardStatus
	Type                  CardType
	PlanName              string
	ValidityDays          int
	TotalClasses          *int
	RemainingClasses      *int
	ApplicableLessonTypes []string
	MaxBookingsPerDay     *int
	ActivatedAtUnixUTC    int64
	ExpiresAtUnixUTC      int64
	PurchasePrice         AmountCents
	ActualPaid            AmountCents
	Discount              AmountCents
}

// AppliesTo reports whether the card covers the lesson type; a nil list covers every type.
func (card Card) AppliesTo(lessonType string) bool {
	if card.ApplicableLessonTypes == nil {
		return true
	}
	for _, candidate := range card.ApplicableLessonTypes {
		if candidate == lessonType {
			return true
		}
	}
	return false
}

// HasBalance reports whether the card can pay for one more class.
func (card Card) HasBalance() bool {
	switch card.Type {
	case CardTypeUnlimited:
		return true
	case CardTypeCountBased:
		return card.RemainingClasses != nil && *card.RemainingClasses >= classesPerBooking
	default:
		return false
	}
}

// IsEligible reports whether the card can pay for a lesson of the given type at the given time.
func (card Card) IsEligible(lessonType string, nowUnixUTC int64) bool {
	return card.Status == CardStatusActive &&
		card.ExpiresAtUnixUTC > nowUnixUTC &&
		card.AppliesTo(lessonType) &&
		card.HasBalance()
}

// NewCard describes a card to be inserted.
type NewCard struct {
	UserID             UserID
	Plan               Plan
	CardNumber         string
	ActivatedAtUnixUTC int64
	ExpiresAtUnixUTC   int64
	ActualPaid         AmountCents
	Discount           AmountCents
}

// UsageRecord is an append-only audit row for a card debit or its refund.
type UsageRecord struct {
	ID              UsageID
	CardID          CardID
	UserID          UserID
	BookingID       BookingID
	LessonID        LessonID
	Type            UsageType
	ClassesConsumed int
	RemainingBefore *int
	RemainingAfter  *int
	UsedAtUnixUTC   int64
}

// LessonView is a lesson annotated for a specific viewer.
type LessonView struct {
	Lesson
	CurrentStudents int
	IsBooked        bool
	BookingID       *BookingID
}

// UserStatistics counts a user's bookings by status.
type UserStatistics struct {
	Total     int
	Confirmed int
	Completed int
	Cancelled int
	NoShow    int
}

// BookingOutcome is the result of a successful Book call.
type BookingOutcome struct {
	BookingID     BookingID
	CardID        CardID
	AlreadyBooked bool
}

// CancelOutcome is the result of a successful Cancel call.
type CancelOutcome struct {
	BookingID       BookingID
	Refunded        bool
	RefundedClasses int
}
