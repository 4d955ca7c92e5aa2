package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintBookingUserLesson = "uniq_bookings_user_lesson"
	dialectPostgres             = "postgres"
	pgUniqueViolationCode       = "23505"
	sqliteConstraintCode        = 19
	errorOperationStore         = "store"
	errorSubjectUser            = "user"
	errorSubjectLesson          = "lesson"
	errorSubjectBooking         = "booking"
	errorSubjectPlan            = "plan"
	errorSubjectCard            = "card"
	errorSubjectUsage           = "usage"
	errorCodeCount              = "count"
	errorCodeDuplicate          = "duplicate"
	errorCodeExpire             = "expire"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLookup             = "lookup"
	errorCodeUpdate             = "update"
	errorCodeUpdateStatus       = "update_status"
	errorCodeUpsert             = "upsert"
)

// Store implements booking.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var (
	_ booking.Store         = (*Store)(nil)
	_ booking.SnapshotStore = (*Store)(nil)
)

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// WithSnapshot executes fn in a read-only transaction. PostgreSQL runs it at
// repeatable read; a SQLite transaction already reads one consistent state.
func (store *Store) WithSnapshot(ctx context.Context, fn func(ctx context.Context, snapshot booking.Store) error) error {
	var options []*sql.TxOptions
	if store.db.Dialector.Name() == dialectPostgres {
		options = append(options, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	}, options...)
}

func (store *Store) ResolveUserID(ctx context.Context, openID booking.OpenID) (booking.UserID, error) {
	var model User
	err := store.db.WithContext(ctx).
		Select("id").
		Where("open_id = ?", openID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, wrapStoreError(errorSubjectUser, errorCodeLookup, booking.ErrUserNotFound)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return booking.UserID(model.ID), nil
}

func (store *Store) UpsertUser(ctx context.Context, openID booking.OpenID, profile booking.UserProfile) (booking.UserID, error) {
	now := time.Now().UTC()
	model := User{
		OpenID:    openID.String(),
		NickName:  profile.NickName,
		AvatarURL: profile.AvatarURL,
		Phone:     profile.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "open_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"nick_name":  clause.Expr{SQL: "coalesce(excluded.nick_name, users.nick_name)"},
				"avatar_url": clause.Expr{SQL: "coalesce(excluded.avatar_url, users.avatar_url)"},
				"phone":      clause.Expr{SQL: "coalesce(excluded.phone, users.phone)"},
				"updated_at": clause.Expr{SQL: "excluded.updated_at"},
			}),
		}).
		Create(&model).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectUser, errorCodeUpsert, err)
	}
	return store.ResolveUserID(ctx, openID)
}

func (store *Store) GetActiveLesson(ctx context.Context, lessonID booking.LessonID) (booking.Lesson, error) {
	var model Lesson
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND is_active = ?", lessonID.Int64(), true).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Lesson{}, wrapStoreError(errorSubjectLesson, errorCodeGet, booking.ErrLessonNotFound)
	}
	if err != nil {
		return booking.Lesson{}, wrapStoreError(errorSubjectLesson, errorCodeGet, err)
	}
	return mapLesson(model), nil
}

func (store *Store) ListLessons(ctx context.Context, fromUnixUTC int64, toUnixUTC int64) ([]booking.Lesson, error) {
	var rows []Lesson
	err := store.db.WithContext(ctx).
		Where("is_active = ? AND start_time >= ? AND start_time < ?", true, unixToTime(fromUnixUTC), unixToTime(toUnixUTC)).
		Order("start_time ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLesson, errorCodeList, err)
	}
	lessons := make([]booking.Lesson, 0, len(rows))
	for _, row := range rows {
		lessons = append(lessons, mapLesson(row))
	}
	return lessons, nil
}

func (store *Store) CountConfirmedBookings(ctx context.Context, lessonIDs []booking.LessonID) (map[booking.LessonID]int, error) {
	counts := make(map[booking.LessonID]int, len(lessonIDs))
	if len(lessonIDs) == 0 {
		return counts, nil
	}
	rawIDs := make([]int64, 0, len(lessonIDs))
	for _, lessonID := range lessonIDs {
		counts[lessonID] = 0
		rawIDs = append(rawIDs, lessonID.Int64())
	}
	var rows []groupCount
	err := store.db.WithContext(ctx).
		Model(&Booking{}).
		Select("lesson_id as group_key, count(*) as total").
		Where("lesson_id IN ? AND status = ?", rawIDs, string(booking.BookingStatusConfirmed)).
		Group("lesson_id").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	for _, row := range rows {
		counts[booking.LessonID(row.GroupKey)] = row.Total
	}
	return counts, nil
}

func (store *Store) FindBooking(ctx context.Context, userID booking.UserID, lessonID booking.LessonID) (booking.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND lesson_id = ?", userID.Int64(), lessonID.Int64()).
		Take(&model).Error
	return store.bookingResult(model, err)
}

func (store *Store) GetConfirmedBooking(ctx context.Context, bookingID booking.BookingID, userID booking.UserID) (booking.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ? AND status = ?", bookingID.Int64(), userID.Int64(), string(booking.BookingStatusConfirmed)).
		Take(&model).Error
	return store.bookingResult(model, err)
}

func (store *Store) bookingResult(model Booking, err error) (booking.Booking, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrBookingNotFound)
	}
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	mapped, err := mapBooking(model)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) InsertBooking(ctx context.Context, userID booking.UserID, lessonID booking.LessonID, atUnixUTC int64) (booking.BookingID, error) {
	at := unixToTime(atUnixUTC)
	model := Booking{
		UserID:          userID.Int64(),
		LessonID:        lessonID.Int64(),
		Status:          string(booking.BookingStatusConfirmed),
		BookingTime:     at,
		StatusChangedAt: at,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isBookingConflict(err) {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrBookingConflict)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return booking.BookingID(model.ID), nil
}

func (store *Store) UpdateBookingStatus(ctx context.Context, bookingID booking.BookingID, from booking.BookingStatus, to booking.BookingStatus, atUnixUTC int64) error {
	at := unixToTime(atUnixUTC)
	updates := map[string]interface{}{
		"status":            string(to),
		"status_changed_at": at,
	}
	if to == booking.BookingStatusConfirmed {
		updates["booking_time"] = at
	}
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ? AND status = ?", bookingID.Int64(), string(from)).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrStaleWrite)
	}
	return nil
}

func (store *Store) ListUserBookings(ctx context.Context, userID booking.UserID, lessonIDs []booking.LessonID) ([]booking.Booking, error) {
	if len(lessonIDs) == 0 {
		return []booking.Booking{}, nil
	}
	rawIDs := make([]int64, 0, len(lessonIDs))
	for _, lessonID := range lessonIDs {
		rawIDs = append(rawIDs, lessonID.Int64())
	}
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND lesson_id IN ?", userID.Int64(), rawIDs).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapBooking(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, mapped)
	}
	return bookings, nil
}

func (store *Store) CountUserBookingsByStatus(ctx context.Context, userID booking.UserID) (map[booking.BookingStatus]int, error) {
	var rows []statusCount
	err := store.db.WithContext(ctx).
		Model(&Booking{}).
		Select("status, count(*) as total").
		Where("user_id = ?", userID.Int64()).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	counts := make(map[booking.BookingStatus]int, len(rows))
	for _, row := range rows {
		status, err := booking.ParseBookingStatus(row.Status)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		counts[status] = row.Total
	}
	return counts, nil
}

func (store *Store) ListActivePlans(ctx context.Context) ([]booking.Plan, error) {
	var rows []MembershipPlan
	err := store.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPlan, errorCodeList, err)
	}
	plans := make([]booking.Plan, 0, len(rows))
	for _, row := range rows {
		plan, err := mapPlan(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPlan, errorCodeInvalid, err)
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (store *Store) GetActivePlan(ctx context.Context, planID booking.PlanID) (booking.Plan, error) {
	var model MembershipPlan
	err := store.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", planID.Int64(), true).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, booking.ErrPlanNotFound)
	}
	if err != nil {
		return booking.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, err)
	}
	plan, err := mapPlan(model)
	if err != nil {
		return booking.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeInvalid, err)
	}
	return plan, nil
}

func (store *Store) ListActiveCards(ctx context.Context, userID booking.UserID, atUnixUTC int64) ([]booking.Card, error) {
	var rows []UserMembershipCard
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID.Int64(), string(booking.CardStatusActive), unixToTime(atUnixUTC)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	return mapCards(rows)
}

func (store *Store) GetCard(ctx context.Context, cardID booking.CardID) (booking.Card, error) {
	var model UserMembershipCard
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cardID.Int64()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, booking.ErrCardNotFound)
	}
	if err != nil {
		return booking.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, err)
	}
	card, err := mapCard(model)
	if err != nil {
		return booking.Card{}, wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	return card, nil
}

func (store *Store) InsertCard(ctx context.Context, newCard booking.NewCard) (booking.CardID, error) {
	card := booking.NewCardFromPurchase(newCard)
	applicable, err := encodeLessonTypes(card.ApplicableLessonTypes)
	if err != nil {
		return 0, wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	model := UserMembershipCard{
		UserID:                card.UserID.Int64(),
		PlanID:                card.PlanID.Int64(),
		CardNumber:            card.CardNumber,
		Status:                string(card.Status),
		CardType:              string(card.Type),
		PlanName:              card.PlanName,
		ValidityDays:          card.ValidityDays,
		TotalClasses:          card.TotalClasses,
		RemainingClasses:      card.RemainingClasses,
		ApplicableLessonTypes: applicable,
		MaxBookingsPerDay:     card.MaxBookingsPerDay,
		ActivatedAt:           unixToTime(card.ActivatedAtUnixUTC),
		ExpiresAt:             unixToTime(card.ExpiresAtUnixUTC),
		PurchasePriceCents:    card.PurchasePrice.Int64(),
		ActualPaidCents:       card.ActualPaid.Int64(),
		DiscountCents:         card.Discount.Int64(),
		CreatedAt:             unixToTime(card.ActivatedAtUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectCard, errorCodeInsert, err)
	}
	return booking.CardID(model.ID), nil
}

func (store *Store) UpdateCardRemaining(ctx context.Context, cardID booking.CardID, from int, to int) error {
	if to < 0 {
		return wrapStoreError(errorSubjectCard, errorCodeUpdate, booking.ErrInsufficientClasses)
	}
	result := store.db.WithContext(ctx).
		Model(&UserMembershipCard{}).
		Where("id = ? AND remaining_classes = ?", cardID.Int64(), from).
		Update("remaining_classes", to)
	if result.Error != nil {
		return wrapStoreError(errorSubjectCard, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCard, errorCodeUpdate, booking.ErrStaleWrite)
	}
	return nil
}

func (store *Store) ListCards(ctx context.Context, userID booking.UserID) ([]booking.Card, error) {
	var rows []UserMembershipCard
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.Int64()).
		Order("expires_at DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	return mapCards(rows)
}

func (store *Store) ExpireCards(ctx context.Context, atUnixUTC int64) (int, error) {
	result := store.db.WithContext(ctx).
		Model(&UserMembershipCard{}).
		Where("status = ? AND expires_at <= ?", string(booking.CardStatusActive), unixToTime(atUnixUTC)).
		Update("status", string(booking.CardStatusExpired))
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectCard, errorCodeExpire, result.Error)
	}
	return int(result.RowsAffected), nil
}

func (store *Store) InsertUsage(ctx context.Context, usage booking.UsageRecord) (booking.UsageID, error) {
	model := MembershipCardUsage{
		UserCardID:             usage.CardID.Int64(),
		UserID:                 usage.UserID.Int64(),
		BookingID:              usage.BookingID.Int64(),
		LessonID:               usage.LessonID.Int64(),
		UsageType:              string(usage.Type),
		ClassesConsumed:        usage.ClassesConsumed,
		RemainingClassesBefore: usage.RemainingBefore,
		RemainingClassesAfter:  usage.RemainingAfter,
		UsedAt:                 unixToTime(usage.UsedAtUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectUsage, errorCodeInsert, err)
	}
	return booking.UsageID(model.ID), nil
}

func (store *Store) FindConsumeUsage(ctx context.Context, bookingID booking.BookingID) (booking.UsageRecord, error) {
	var model MembershipCardUsage
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ? AND usage_type = ?", bookingID.Int64(), string(booking.UsageTypeConsume)).
		Order("id DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeGet, booking.ErrUsageNotFound)
	}
	if err != nil {
		return booking.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeGet, err)
	}
	usage, err := mapUsage(model)
	if err != nil {
		return booking.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeInvalid, err)
	}
	return usage, nil
}

func (store *Store) UpdateUsageType(ctx context.Context, usageID booking.UsageID, from booking.UsageType, to booking.UsageType) error {
	result := store.db.WithContext(ctx).
		Model(&MembershipCardUsage{}).
		Where("id = ? AND usage_type = ?", usageID.Int64(), string(from)).
		Update("usage_type", string(to))
	if result.Error != nil {
		return wrapStoreError(errorSubjectUsage, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUsage, errorCodeUpdate, booking.ErrStaleWrite)
	}
	return nil
}

func (store *Store) ListUsage(ctx context.Context, userID booking.UserID, cardID *booking.CardID) ([]booking.UsageRecord, error) {
	query := store.db.WithContext(ctx).Where("user_id = ?", userID.Int64())
	if cardID != nil {
		query = query.Where("user_card_id = ?", cardID.Int64())
	}
	var rows []MembershipCardUsage
	err := query.Order("used_at DESC").Order("id DESC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectUsage, errorCodeList, err)
	}
	records := make([]booking.UsageRecord, 0, len(rows))
	for _, row := range rows {
		usage, err := mapUsage(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectUsage, errorCodeInvalid, err)
		}
		records = append(records, usage)
	}
	return records, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

type groupCount struct {
	GroupKey int64
	Total    int
}

type statusCount struct {
	Status string
	Total  int
}

func mapLesson(row Lesson) booking.Lesson {
	return booking.Lesson{
		ID:           booking.LessonID(row.ID),
		Title:        row.Title,
		TeacherID:    row.TeacherID,
		LocationID:   row.LocationID,
		LessonType:   row.LessonType,
		StartUnixUTC: row.StartTime.Unix(),
		EndUnixUTC:   row.EndTime.Unix(),
		MaxStudents:  row.MaxStudents,
		Active:       row.IsActive,
	}
}

func mapBooking(row Booking) (booking.Booking, error) {
	status, err := booking.ParseBookingStatus(row.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	return booking.Booking{
		ID:             booking.BookingID(row.ID),
		UserID:         booking.UserID(row.UserID),
		LessonID:       booking.LessonID(row.LessonID),
		Status:         status,
		BookedUnixUTC:  row.BookingTime.Unix(),
		UpdatedUnixUTC: row.StatusChangedAt.Unix(),
	}, nil
}

func mapPlan(row MembershipPlan) (booking.Plan, error) {
	cardType, err := booking.ParseCardType(row.CardType)
	if err != nil {
		return booking.Plan{}, err
	}
	applicable, err := decodeLessonTypes(row.ApplicableLessonTypes)
	if err != nil {
		return booking.Plan{}, err
	}
	return booking.Plan{
		ID:                    booking.PlanID(row.ID),
		Name:                  row.Name,
		Description:           row.Description,
		Type:                  cardType,
		ValidityDays:          row.ValidityDays,
		TotalClasses:          row.TotalClasses,
		ApplicableLessonTypes: applicable,
		MaxBookingsPerDay:     row.MaxBookingsPerDay,
		Price:                 booking.AmountCents(row.PriceCents),
		SortOrder:             row.SortOrder,
		Active:                row.IsActive,
	}, nil
}

func mapCards(rows []UserMembershipCard) ([]booking.Card, error) {
	cards := make([]booking.Card, 0, len(rows))
	for _, row := range rows {
		card, err := mapCard(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func mapCard(row UserMembershipCard) (booking.Card, error) {
	status, err := booking.ParseCardStatus(row.Status)
	if err != nil {
		return booking.Card{}, err
	}
	cardType, err := booking.ParseCardType(row.CardType)
	if err != nil {
		return booking.Card{}, err
	}
	applicable, err := decodeLessonTypes(row.ApplicableLessonTypes)
	if err != nil {
		return booking.Card{}, err
	}
	return booking.Card{
		ID:                    booking.CardID(row.ID),
		UserID:                booking.UserID(row.UserID),
		PlanID:                booking.PlanID(row.PlanID),
		CardNumber:            row.CardNumber,
		Status:                status,
		Type:                  cardType,
		PlanName:              row.PlanName,
		ValidityDays:          row.ValidityDays,
		TotalClasses:          row.TotalClasses,
		RemainingClasses:      row.RemainingClasses,
		ApplicableLessonTypes: applicable,
		MaxBookingsPerDay:     row.MaxBookingsPerDay,
		ActivatedAtUnixUTC:    row.ActivatedAt.Unix(),
		ExpiresAtUnixUTC:      row.ExpiresAt.Unix(),
		PurchasePrice:         booking.AmountCents(row.PurchasePriceCents),
		ActualPaid:            booking.AmountCents(row.ActualPaidCents),
		Discount:              booking.AmountCents(row.DiscountCents),
	}, nil
}

func mapUsage(row MembershipCardUsage) (booking.UsageRecord, error) {
	usageType, err := booking.ParseUsageType(row.UsageType)
	if err != nil {
		return booking.UsageRecord{}, err
	}
	return booking.UsageRecord{
		ID:              booking.UsageID(row.ID),
		CardID:          booking.CardID(row.UserCardID),
		UserID:          booking.UserID(row.UserID),
		BookingID:       booking.BookingID(row.BookingID),
		LessonID:        booking.LessonID(row.LessonID),
		Type:            usageType,
		ClassesConsumed: row.ClassesConsumed,
		RemainingBefore: row.RemainingClassesBefore,
		RemainingAfter:  row.RemainingClassesAfter,
		UsedAtUnixUTC:   row.UsedAt.Unix(),
	}, nil
}

// encodeLessonTypes keeps nil as SQL NULL, which means every lesson type.
func encodeLessonTypes(lessonTypes []string) (datatypes.JSON, error) {
	if lessonTypes == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(lessonTypes)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func decodeLessonTypes(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	lessonTypes := make([]string, 0)
	if err := json.Unmarshal(raw, &lessonTypes); err != nil {
		return nil, err
	}
	return lessonTypes, nil
}

func unixToTime(unixUTC int64) time.Time {
	return time.Unix(unixUTC, 0).UTC()
}

func isBookingConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintBookingUserLesson
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
