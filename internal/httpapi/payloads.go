package httpapi

import "github.com/MarkoPoloResearchLab/classbook/pkg/booking"

type lessonPayload struct {
	LessonID        int64  `json:"lesson_id"`
	Title           string `json:"title"`
	LessonType      string `json:"lesson_type"`
	TeacherID       int64  `json:"teacher_id"`
	LocationID      int64  `json:"location_id"`
	StartUnixUTC    int64  `json:"start_time"`
	EndUnixUTC      int64  `json:"end_time"`
	MaxStudents     int    `json:"max_students"`
	CurrentStudents int    `json:"current_students"`
	IsBooked        bool   `json:"is_booked"`
	BookingID       *int64 `json:"booking_id"`
}

func newLessonPayload(view booking.LessonView) lessonPayload {
	payload := lessonPayload{
		LessonID:        view.ID.Int64(),
		Title:           view.Title,
		LessonType:      view.LessonType,
		TeacherID:       view.TeacherID,
		LocationID:      view.LocationID,
		StartUnixUTC:    view.StartUnixUTC,
		EndUnixUTC:      view.EndUnixUTC,
		MaxStudents:     view.MaxStudents,
		CurrentStudents: view.CurrentStudents,
		IsBooked:        view.IsBooked,
	}
	if view.BookingID != nil {
		bookingID := view.BookingID.Int64()
		payload.BookingID = &bookingID
	}
	return payload
}

type planPayload struct {
	PlanID                int64    `json:"plan_id"`
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	CardType              string   `json:"card_type"`
	ValidityDays          int      `json:"validity_days"`
	TotalClasses          *int     `json:"total_classes"`
	ApplicableLessonTypes []string `json:"applicable_lesson_types"`
	MaxBookingsPerDay     *int     `json:"max_bookings_per_day"`
	PriceCents            int64    `json:"price_cents"`
}

func newPlanPayload(plan booking.Plan) planPayload {
	return planPayload{
		PlanID:                plan.ID.Int64(),
		Name:                  plan.Name,
		Description:           plan.Description,
		CardType:              string(plan.Type),
		ValidityDays:          plan.ValidityDays,
		TotalClasses:          plan.TotalClasses,
		ApplicableLessonTypes: plan.ApplicableLessonTypes,
		MaxBookingsPerDay:     plan.MaxBookingsPerDay,
		PriceCents:            plan.Price.Int64(),
	}
}

type cardPayload struct {
	CardID                int64    `json:"card_id"`
	CardNumber            string   `json:"card_number"`
	PlanID                int64    `json:"plan_id"`
	PlanName              string   `json:"plan_name"`
	Status                string   `json:"status"`
	CardType              string   `json:"card_type"`
	TotalClasses          *int     `json:"total_classes"`
	RemainingClasses      *int     `json:"remaining_classes"`
	ApplicableLessonTypes []string `json:"applicable_lesson_types"`
	ActivatedAtUnixUTC    int64    `json:"activated_at"`
	ExpiresAtUnixUTC      int64    `json:"expires_at"`
	PurchasePriceCents    int64    `json:"purchase_price_cents"`
	ActualPaidCents       int64    `json:"actual_paid_cents"`
	DiscountCents         int64    `json:"discount_cents"`
}

func newCardPayload(card booking.Card) cardPayload {
	return cardPayload{
		CardID:                card.ID.Int64(),
		CardNumber:            card.CardNumber,
		PlanID:                card.PlanID.Int64(),
		PlanName:              card.PlanName,
		Status:                string(card.Status),
		CardType:              string(card.Type),
		TotalClasses:          card.TotalClasses,
		RemainingClasses:      card.RemainingClasses,
		ApplicableLessonTypes: card.ApplicableLessonTypes,
		ActivatedAtUnixUTC:    card.ActivatedAtUnixUTC,
		ExpiresAtUnixUTC:      card.ExpiresAtUnixUTC,
		PurchasePriceCents:    card.PurchasePrice.Int64(),
		ActualPaidCents:       card.ActualPaid.Int64(),
		DiscountCents:         card.Discount.Int64(),
	}
}

type usagePayload struct {
	UsageID         int64  `json:"usage_id"`
	CardID          int64  `json:"card_id"`
	BookingID       int64  `json:"booking_id"`
	LessonID        int64  `json:"lesson_id"`
	UsageType       string `json:"usage_type"`
	ClassesConsumed int    `json:"classes_consumed"`
	RemainingBefore *int   `json:"remaining_classes_before"`
	RemainingAfter  *int   `json:"remaining_classes_after"`
	UsedAtUnixUTC   int64  `json:"used_at"`
}

func newUsagePayload(record booking.UsageRecord) usagePayload {
	return usagePayload{
		UsageID:         record.ID.Int64(),
		CardID:          record.CardID.Int64(),
		BookingID:       record.BookingID.Int64(),
		LessonID:        record.LessonID.Int64(),
		UsageType:       string(record.Type),
		ClassesConsumed: record.ClassesConsumed,
		RemainingBefore: record.RemainingBefore,
		RemainingAfter:  record.RemainingAfter,
		UsedAtUnixUTC:   record.UsedAtUnixUTC,
	}
}
