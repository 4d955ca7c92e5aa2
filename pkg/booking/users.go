package booking

import (
	"context"
	"errors"
	"fmt"
)

// UserService registers users and reports their booking statistics.
type UserService struct {
	store  Store
	logger OperationLogger
}

// NewUserService wires a UserService; logger may be nil.
func NewUserService(store Store, logger OperationLogger) (*UserService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &UserService{store: store, logger: logger}, nil
}

// RegisterUser creates the user behind openID or refreshes the supplied profile fields.
func (service *UserService) RegisterUser(ctx context.Context, openID OpenID, profile UserProfile) (UserID, error) {
	userID, err := service.store.UpsertUser(ctx, openID, profile)
	emitOperation(ctx, service.logger, OperationLog{
		Operation: operationRegister,
		OpenID:    openID,
		UserID:    userID,
		Error:     err,
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// UserStatistics counts the user's bookings by status; an unknown user has none.
func (service *UserService) UserStatistics(ctx context.Context, openID OpenID) (UserStatistics, error) {
	userID, err := service.store.ResolveUserID(ctx, openID)
	if errors.Is(err, ErrUserNotFound) {
		return UserStatistics{}, nil
	}
	if err != nil {
		return UserStatistics{}, err
	}
	counts, err := service.store.CountUserBookingsByStatus(ctx, userID)
	if err != nil {
		return UserStatistics{}, err
	}
	statistics := UserStatistics{
		Confirmed: counts[BookingStatusConfirmed],
		Completed: counts[BookingStatusCompleted],
		Cancelled: counts[BookingStatusCancelled],
		NoShow:    counts[BookingStatusNoShow],
	}
	statistics.Total = statistics.Confirmed + statistics.Completed + statistics.Cancelled + statistics.NoShow
	return statistics, nil
}
