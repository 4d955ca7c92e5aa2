package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// MembershipOption configures a MembershipService instance.
type MembershipOption func(*MembershipService)

// WithMembershipLogger wires an operation logger.
func WithMembershipLogger(logger OperationLogger) MembershipOption {
	return func(service *MembershipService) {
		service.logger = logger
	}
}

// WithCardNumberGenerator replaces the card number source.
func WithCardNumberGenerator(generator func() string) MembershipOption {
	return func(service *MembershipService) {
		if generator != nil {
			service.cardNumberFn = generator
		}
	}
}

// PurchaseOutcome identifies a newly issued card.
type PurchaseOutcome struct {
	CardID     CardID
	CardNumber string
	Card       Card
}

// MembershipService runs the card lifecycle outside booking: plans, purchase,
// listings and expiry.
type MembershipService struct {
	store        Store
	nowFn        func() int64
	logger       OperationLogger
	cardNumberFn func() string
}

// NewMembershipService wires a MembershipService.
func NewMembershipService(store Store, now func() int64, options ...MembershipOption) (*MembershipService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &MembershipService{store: store, nowFn: now, cardNumberFn: newCardNumber}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ListPlans returns purchasable plans in display order.
func (service *MembershipService) ListPlans(ctx context.Context) ([]Plan, error) {
	return service.store.ListActivePlans(ctx)
}

// Purchase issues a card from the plan, snapshotting the plan terms onto it.
// paidAmount nil charges the plan price.
func (service *MembershipService) Purchase(ctx context.Context, openID OpenID, planID PlanID, paidAmount *AmountCents) (PurchaseOutcome, error) {
	var (
		outcome PurchaseOutcome
		userID  UserID
	)
	transactionError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		resolvedUserID, err := transactionStore.ResolveUserID(ctx, openID)
		if err != nil {
			return err
		}
		userID = resolvedUserID
		plan, err := transactionStore.GetActivePlan(ctx, planID)
		if err != nil {
			return err
		}
		actualPaid := plan.Price
		if paidAmount != nil {
			if *paidAmount < 0 {
				return fmt.Errorf("%w: paid amount must not be negative", ErrInvalidAmountCents)
			}
			actualPaid = *paidAmount
		}
		nowUnixUTC := service.nowFn()
		newCard := NewCard{
			UserID:             userID,
			Plan:               plan,
			CardNumber:         service.cardNumberFn(),
			ActivatedAtUnixUTC: nowUnixUTC,
			ExpiresAtUnixUTC:   nowUnixUTC + int64(plan.ValidityDays)*secondsPerDay,
			ActualPaid:         actualPaid,
			Discount:           plan.Price - actualPaid,
		}
		cardID, err := transactionStore.InsertCard(ctx, newCard)
		if err != nil {
			return err
		}
		outcome = PurchaseOutcome{CardID: cardID, CardNumber: newCard.CardNumber, Card: cardFromPurchase(cardID, newCard)}
		return nil
	})
	operationError := classify(errorOperationMembership, errorSubjectPurchase, transactionError)
	emitOperation(ctx, service.logger, OperationLog{
		Operation: operationPurchase,
		OpenID:    openID,
		UserID:    userID,
		PlanID:    planID,
		CardID:    outcome.CardID,
		Error:     operationError,
	})
	if operationError != nil {
		return PurchaseOutcome{}, operationError
	}
	return outcome, nil
}

// ListCards returns the user's cards: active first, then expired, then the rest,
// latest expiry first within each group.
func (service *MembershipService) ListCards(ctx context.Context, openID OpenID) ([]Card, error) {
	userID, err := service.store.ResolveUserID(ctx, openID)
	if err != nil {
		return nil, err
	}
	cards, err := service.store.ListCards(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cards, func(left, right int) bool {
		leftRank, rightRank := cardStatusRank(cards[left].Status), cardStatusRank(cards[right].Status)
		if leftRank != rightRank {
			return leftRank < rightRank
		}
		if cards[left].ExpiresAtUnixUTC != cards[right].ExpiresAtUnixUTC {
			return cards[left].ExpiresAtUnixUTC > cards[right].ExpiresAtUnixUTC
		}
		return cards[left].ID > cards[right].ID
	})
	return cards, nil
}

// ListUsage returns the user's usage rows newest first, optionally for one card.
func (service *MembershipService) ListUsage(ctx context.Context, openID OpenID, cardID *CardID) ([]UsageRecord, error) {
	userID, err := service.store.ResolveUserID(ctx, openID)
	if err != nil {
		return nil, err
	}
	return service.store.ListUsage(ctx, userID, cardID)
}

// ExpireCards marks active cards past their expiry as expired and returns how many changed.
func (service *MembershipService) ExpireCards(ctx context.Context) (int, error) {
	expired, err := service.store.ExpireCards(ctx, service.nowFn())
	emitOperation(ctx, service.logger, OperationLog{
		Operation: operationExpireCards,
		Count:     expired,
		Error:     err,
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

func cardStatusRank(status CardStatus) int {
	switch status {
	case CardStatusActive:
		return 0
	case CardStatusExpired:
		return 1
	default:
		return 2
	}
}

func cardFromPurchase(cardID CardID, newCard NewCard) Card {
	plan := newCard.Plan
	card := Card{
		ID:                    cardID,
		UserID:                newCard.UserID,
		PlanID:                plan.ID,
		CardNumber:            newCard.CardNumber,
		Status:                CardStatusActive,
		Type:                  plan.Type,
		PlanName:              plan.Name,
		ValidityDays:          plan.ValidityDays,
		ApplicableLessonTypes: plan.ApplicableLessonTypes,
		MaxBookingsPerDay:     plan.MaxBookingsPerDay,
		ActivatedAtUnixUTC:    newCard.ActivatedAtUnixUTC,
		ExpiresAtUnixUTC:      newCard.ExpiresAtUnixUTC,
		PurchasePrice:         plan.Price,
		ActualPaid:            newCard.ActualPaid,
		Discount:              newCard.Discount,
	}
	if plan.Type == CardTypeCountBased && plan.TotalClasses != nil {
		total := *plan.TotalClasses
		remaining := total
		card.TotalClasses = &total
		card.RemainingClasses = &remaining
	}
	return card
}

// NewCardFromPurchase builds the stored card for a purchase; stores use it so
// every backend snapshots plan terms identically.
func NewCardFromPurchase(newCard NewCard) Card {
	return cardFromPurchase(0, newCard)
}

func newCardNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return cardNumberPrefix + strings.ToUpper(raw[:cardNumberLength])
}
