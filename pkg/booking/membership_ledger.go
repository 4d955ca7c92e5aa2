package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// MembershipLedger owns card balances and the usage audit trail.
// It never interprets store failures; they propagate to the caller untouched.
type MembershipLedger struct {
	store Store
	nowFn func() int64
}

// NewMembershipLedger builds a ledger over store, which may be a transaction store.
func NewMembershipLedger(store Store, now func() int64) (*MembershipLedger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &MembershipLedger{store: store, nowFn: now}, nil
}

// FindEligibleCard returns the eligible card expiring soonest; ok is false when none qualifies.
// Ties on expiry go to the lower card id.
func (ledger *MembershipLedger) FindEligibleCard(ctx context.Context, userID UserID, lessonType string) (Card, bool, error) {
	nowUnixUTC := ledger.nowFn()
	cards, err := ledger.store.ListActiveCards(ctx, userID, nowUnixUTC)
	if err != nil {
		return Card{}, false, err
	}
	eligible := make([]Card, 0, len(cards))
	for _, card := range cards {
		if card.IsEligible(lessonType, nowUnixUTC) {
			eligible = append(eligible, card)
		}
	}
	if len(eligible) == 0 {
		return Card{}, false, nil
	}
	sort.SliceStable(eligible, func(left, right int) bool {
		if eligible[left].ExpiresAtUnixUTC != eligible[right].ExpiresAtUnixUTC {
			return eligible[left].ExpiresAtUnixUTC < eligible[right].ExpiresAtUnixUTC
		}
		return eligible[left].ID < eligible[right].ID
	})
	return eligible[0], true, nil
}

// Debit charges one booking against the card and appends a consume usage row.
// The card is re-read under lock; a count_based card without remaining classes
// fails with ErrInsufficientClasses even if it looked eligible earlier.
func (ledger *MembershipLedger) Debit(ctx context.Context, cardID CardID, bookingID BookingID, lessonID LessonID) (UsageRecord, error) {
	nowUnixUTC := ledger.nowFn()
	card, err := ledger.store.GetCard(ctx, cardID)
	if err != nil {
		return UsageRecord{}, err
	}
	if card.Status != CardStatusActive || card.ExpiresAtUnixUTC <= nowUnixUTC {
		return UsageRecord{}, ErrCardInactive
	}
	usage := UsageRecord{
		CardID:        card.ID,
		UserID:        card.UserID,
		BookingID:     bookingID,
		LessonID:      lessonID,
		Type:          UsageTypeConsume,
		UsedAtUnixUTC: nowUnixUTC,
	}
	switch card.Type {
	case CardTypeCountBased:
		if card.RemainingClasses == nil || *card.RemainingClasses < classesPerBooking {
			return UsageRecord{}, ErrInsufficientClasses
		}
		before := *card.RemainingClasses
		after := before - classesPerBooking
		if err := ledger.store.UpdateCardRemaining(ctx, card.ID, before, after); err != nil {
			return UsageRecord{}, err
		}
		usage.ClassesConsumed = classesPerBooking
		usage.RemainingBefore = &before
		usage.RemainingAfter = &after
	case CardTypeUnlimited:
		usage.ClassesConsumed = 0
	default:
		return UsageRecord{}, fmt.Errorf("%w: %q", ErrInvalidCardType, card.Type)
	}
	usageID, err := ledger.store.InsertUsage(ctx, usage)
	if err != nil {
		return UsageRecord{}, err
	}
	usage.ID = usageID
	return usage, nil
}

// CreditResult reports what a credit actually restored.
type CreditResult struct {
	Restored int
	Clamped  bool
}

// Credit reverses a consume usage row and flips it to refund.
// Unlimited cards get no balance change. Count_based cards get back exactly the
// consumed amount, clamped at total_classes.
func (ledger *MembershipLedger) Credit(ctx context.Context, usage UsageRecord) (CreditResult, error) {
	if usage.Type != UsageTypeConsume {
		return CreditResult{}, fmt.Errorf("%w: usage %d is %s", ErrStaleWrite, usage.ID, usage.Type)
	}
	card, err := ledger.store.GetCard(ctx, usage.CardID)
	if err != nil {
		return CreditResult{}, err
	}
	result := CreditResult{}
	if card.Type == CardTypeCountBased && usage.ClassesConsumed > 0 {
		current := 0
		if card.RemainingClasses != nil {
			current = *card.RemainingClasses
		}
		restored := current + usage.ClassesConsumed
		if card.TotalClasses != nil && restored > *card.TotalClasses {
			restored = *card.TotalClasses
			result.Clamped = true
		}
		if restored != current {
			if err := ledger.store.UpdateCardRemaining(ctx, card.ID, current, restored); err != nil {
				return CreditResult{}, err
			}
		}
		result.Restored = restored - current
	}
	if err := ledger.store.UpdateUsageType(ctx, usage.ID, UsageTypeConsume, UsageTypeRefund); err != nil {
		return CreditResult{}, err
	}
	return result, nil
}

// isMissingCard reports a credit that could not find its card.
func isMissingCard(err error) bool {
	return errors.Is(err, ErrCardNotFound)
}
