package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"

	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintBookingUserLesson = "uniq_bookings_user_lesson"
	pgUniqueViolationCode       = "23505"
	errorOperationStore         = "store"
	errorSubjectSchema          = "schema"
	errorSubjectTransaction     = "transaction"
	errorSubjectUser            = "user"
	errorSubjectLesson          = "lesson"
	errorSubjectBooking         = "booking"
	errorSubjectPlan            = "plan"
	errorSubjectCard            = "card"
	errorSubjectUsage           = "usage"
	errorCodeApply              = "apply"
	errorCodeBegin              = "begin"
	errorCodeCommit             = "commit"
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

	sqlSelectUserID = `select id from users where open_id = $1`

	sqlUpsertUser = `
		insert into users(open_id, nick_name, avatar_url, phone)
		values ($1, $2, $3, $4)
		on conflict (open_id) do update set
			nick_name = coalesce(excluded.nick_name, users.nick_name),
			avatar_url = coalesce(excluded.avatar_url, users.avatar_url),
			phone = coalesce(excluded.phone, users.phone),
			updated_at = now()
		returning id
	`

	lessonColumns = `
		id, title, teacher_id, location_id, lesson_type,
		extract(epoch from start_time)::bigint, extract(epoch from end_time)::bigint,
		max_students, is_active
	`

	sqlSelectActiveLesson = `select ` + lessonColumns + ` from lessons where id = $1 and is_active for update`

	sqlListLessons = `
		select ` + lessonColumns + ` from lessons
		where is_active and start_time >= to_timestamp($1) and start_time < to_timestamp($2)
		order by start_time, id
	`

	sqlCountConfirmed = `
		select lesson_id, count(*) from bookings
		where lesson_id = any($1) and status = 'confirmed'
		group by lesson_id
	`

	bookingColumns = `
		id, user_id, lesson_id, status,
		extract(epoch from booking_time)::bigint, extract(epoch from status_changed_at)::bigint
	`

	sqlSelectBookingForUserLesson = `select ` + bookingColumns + ` from bookings where user_id = $1 and lesson_id = $2 for update`

	sqlSelectConfirmedBooking = `select ` + bookingColumns + ` from bookings where id = $1 and user_id = $2 and status = 'confirmed' for update`

	sqlInsertBooking = `
		insert into bookings(user_id, lesson_id, status, booking_time, status_changed_at)
		values ($1, $2, 'confirmed', to_timestamp($3), to_timestamp($3))
		returning id
	`

	sqlUpdateBookingStatus = `
		update bookings
		set status = $3,
			status_changed_at = to_timestamp($4),
			booking_time = case when $3 = 'confirmed' then to_timestamp($4) else booking_time end
		where id = $1 and status = $2
	`

	sqlListUserBookings = `select ` + bookingColumns + ` from bookings where user_id = $1 and lesson_id = any($2)`

	sqlCountUserBookingsByStatus = `select status, count(*) from bookings where user_id = $1 group by status`

	planColumns = `
		id, name, description, card_type, validity_days, total_classes,
		applicable_lesson_types::text, max_bookings_per_day, price_cents, sort_order, is_active
	`

	sqlListActivePlans = `select ` + planColumns + ` from membership_plans where is_active order by sort_order, id`

	sqlSelectActivePlan = `select ` + planColumns + ` from membership_plans where id = $1 and is_active`

	cardColumns = `
		id, user_id, plan_id, card_number, status, card_type, plan_name, validity_days,
		total_classes, remaining_classes, applicable_lesson_types::text, max_bookings_per_day,
		extract(epoch from activated_at)::bigint, extract(epoch from expires_at)::bigint,
		purchase_price_cents, actual_paid_cents, discount_cents
	`

	sqlListActiveCards = `
		select ` + cardColumns + ` from user_membership_cards
		where user_id = $1 and status = 'active' and expires_at > to_timestamp($2)
		order by id
		for update
	`

	sqlSelectCard = `select ` + cardColumns + ` from user_membership_cards where id = $1 for update`

	sqlInsertCard = `
		insert into user_membership_cards(
			user_id, plan_id, card_number, status, card_type, plan_name, validity_days,
			total_classes, remaining_classes, applicable_lesson_types, max_bookings_per_day,
			activated_at, expires_at, purchase_price_cents, actual_paid_cents, discount_cents
		)
		values (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10::jsonb, $11,
			to_timestamp($12), to_timestamp($13), $14, $15, $16
		)
		returning id
	`

	sqlUpdateCardRemaining = `update user_membership_cards set remaining_classes = $3 where id = $1 and remaining_classes = $2`

	sqlListCards = `select ` + cardColumns + ` from user_membership_cards where user_id = $1 order by expires_at desc, id desc`

	sqlExpireCards = `update user_membership_cards set status = 'expired' where status = 'active' and expires_at <= to_timestamp($1)`

	usageColumns = `
		id, user_card_id, user_id, booking_id, lesson_id, usage_type, classes_consumed,
		remaining_classes_before, remaining_classes_after, extract(epoch from used_at)::bigint
	`

	sqlInsertUsage = `
		insert into membership_card_usage(
			user_card_id, user_id, booking_id, lesson_id, usage_type, classes_consumed,
			remaining_classes_before, remaining_classes_after, used_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, to_timestamp($9))
		returning id
	`

	sqlSelectConsumeUsage = `
		select ` + usageColumns + ` from membership_card_usage
		where booking_id = $1 and usage_type = 'consume'
		order by id desc
		limit 1
		for update
	`

	sqlUpdateUsageType = `update membership_card_usage set usage_type = $3 where id = $1 and usage_type = $2`

	sqlListUsage = `
		select ` + usageColumns + ` from membership_card_usage
		where user_id = $1 and ($2::bigint is null or user_card_id = $2)
		order by used_at desc, id desc
	`
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements booking.Store over pgx. Outside WithTx every statement autocommits.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

var (
	_ booking.Store         = (*Store)(nil)
	_ booking.SnapshotStore = (*Store)(nil)
)

// ApplySchema creates the tables and indexes the store needs.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

// WithTx runs fn in a read-committed transaction; row locks taken by fn are held until commit.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.runTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// WithSnapshot runs fn in a read-only repeatable-read transaction so every
// statement sees the same committed state.
func (store *Store) WithSnapshot(ctx context.Context, fn func(ctx context.Context, snapshot booking.Store) error) error {
	return store.runTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (store *Store) runTx(ctx context.Context, options pgx.TxOptions, fn func(ctx context.Context, txStore booking.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, options)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) ResolveUserID(ctx context.Context, openID booking.OpenID) (booking.UserID, error) {
	var userID int64
	err := store.db.QueryRow(ctx, sqlSelectUserID, openID.String()).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapStoreError(errorSubjectUser, errorCodeLookup, booking.ErrUserNotFound)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return booking.UserID(userID), nil
}

func (store *Store) UpsertUser(ctx context.Context, openID booking.OpenID, profile booking.UserProfile) (booking.UserID, error) {
	var userID int64
	err := store.db.QueryRow(ctx, sqlUpsertUser, openID.String(), profile.NickName, profile.AvatarURL, profile.Phone).Scan(&userID)
	if err != nil {
		return 0, wrapStoreError(errorSubjectUser, errorCodeUpsert, err)
	}
	return booking.UserID(userID), nil
}

func (store *Store) GetActiveLesson(ctx context.Context, lessonID booking.LessonID) (booking.Lesson, error) {
	lesson, err := scanLesson(store.db.QueryRow(ctx, sqlSelectActiveLesson, lessonID.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Lesson{}, wrapStoreError(errorSubjectLesson, errorCodeGet, booking.ErrLessonNotFound)
	}
	if err != nil {
		return booking.Lesson{}, wrapStoreError(errorSubjectLesson, errorCodeGet, err)
	}
	return lesson, nil
}

func (store *Store) ListLessons(ctx context.Context, fromUnixUTC int64, toUnixUTC int64) ([]booking.Lesson, error) {
	rows, err := store.db.Query(ctx, sqlListLessons, fromUnixUTC, toUnixUTC)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLesson, errorCodeList, err)
	}
	defer rows.Close()
	lessons := make([]booking.Lesson, 0)
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLesson, errorCodeList, err)
		}
		lessons = append(lessons, lesson)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectLesson, errorCodeList, err)
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
	rows, err := store.db.Query(ctx, sqlCountConfirmed, rawIDs)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			lessonID int64
			total    int
		)
		if err := rows.Scan(&lessonID, &total); err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
		}
		counts[booking.LessonID(lessonID)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	return counts, nil
}

func (store *Store) FindBooking(ctx context.Context, userID booking.UserID, lessonID booking.LessonID) (booking.Booking, error) {
	return bookingResult(scanBooking(store.db.QueryRow(ctx, sqlSelectBookingForUserLesson, userID.Int64(), lessonID.Int64())))
}

func (store *Store) GetConfirmedBooking(ctx context.Context, bookingID booking.BookingID, userID booking.UserID) (booking.Booking, error) {
	return bookingResult(scanBooking(store.db.QueryRow(ctx, sqlSelectConfirmedBooking, bookingID.Int64(), userID.Int64())))
}

func bookingResult(found booking.Booking, err error) (booking.Booking, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrBookingNotFound)
	}
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return found, nil
}

func (store *Store) InsertBooking(ctx context.Context, userID booking.UserID, lessonID booking.LessonID, atUnixUTC int64) (booking.BookingID, error) {
	var bookingID int64
	err := store.db.QueryRow(ctx, sqlInsertBooking, userID.Int64(), lessonID.Int64(), atUnixUTC).Scan(&bookingID)
	if isBookingConflict(err) {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrBookingConflict)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return booking.BookingID(bookingID), nil
}

func (store *Store) UpdateBookingStatus(ctx context.Context, bookingID booking.BookingID, from booking.BookingStatus, to booking.BookingStatus, atUnixUTC int64) error {
	commandTag, err := store.db.Exec(ctx, sqlUpdateBookingStatus, bookingID.Int64(), string(from), string(to), atUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, err)
	}
	if commandTag.RowsAffected() == 0 {
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
	rows, err := store.db.Query(ctx, sqlListUserBookings, userID.Int64(), rawIDs)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	defer rows.Close()
	bookings := make([]booking.Booking, 0)
	for rows.Next() {
		found, err := scanBooking(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
		}
		bookings = append(bookings, found)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return bookings, nil
}

func (store *Store) CountUserBookingsByStatus(ctx context.Context, userID booking.UserID) (map[booking.BookingStatus]int, error) {
	rows, err := store.db.Query(ctx, sqlCountUserBookingsByStatus, userID.Int64())
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	defer rows.Close()
	counts := make(map[booking.BookingStatus]int)
	for rows.Next() {
		var (
			rawStatus string
			total     int
		)
		if err := rows.Scan(&rawStatus, &total); err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
		}
		status, err := booking.ParseBookingStatus(rawStatus)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		counts[status] = total
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	return counts, nil
}

func (store *Store) ListActivePlans(ctx context.Context) ([]booking.Plan, error) {
	rows, err := store.db.Query(ctx, sqlListActivePlans)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPlan, errorCodeList, err)
	}
	defer rows.Close()
	plans := make([]booking.Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPlan, errorCodeList, err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPlan, errorCodeList, err)
	}
	return plans, nil
}

func (store *Store) GetActivePlan(ctx context.Context, planID booking.PlanID) (booking.Plan, error) {
	plan, err := scanPlan(store.db.QueryRow(ctx, sqlSelectActivePlan, planID.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, booking.ErrPlanNotFound)
	}
	if err != nil {
		return booking.Plan{}, wrapStoreError(errorSubjectPlan, errorCodeGet, err)
	}
	return plan, nil
}

func (store *Store) ListActiveCards(ctx context.Context, userID booking.UserID, atUnixUTC int64) ([]booking.Card, error) {
	return store.queryCards(ctx, sqlListActiveCards, userID.Int64(), atUnixUTC)
}

func (store *Store) ListCards(ctx context.Context, userID booking.UserID) ([]booking.Card, error) {
	return store.queryCards(ctx, sqlListCards, userID.Int64())
}

func (store *Store) queryCards(ctx context.Context, sql string, arguments ...any) ([]booking.Card, error) {
	rows, err := store.db.Query(ctx, sql, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	defer rows.Close()
	cards := make([]booking.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	return cards, nil
}

func (store *Store) GetCard(ctx context.Context, cardID booking.CardID) (booking.Card, error) {
	card, err := scanCard(store.db.QueryRow(ctx, sqlSelectCard, cardID.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, booking.ErrCardNotFound)
	}
	if err != nil {
		return booking.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, err)
	}
	return card, nil
}

func (store *Store) InsertCard(ctx context.Context, newCard booking.NewCard) (booking.CardID, error) {
	card := booking.NewCardFromPurchase(newCard)
	applicable, err := encodeLessonTypes(card.ApplicableLessonTypes)
	if err != nil {
		return 0, wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	var cardID int64
	err = store.db.QueryRow(ctx, sqlInsertCard,
		card.UserID.Int64(),
		card.PlanID.Int64(),
		card.CardNumber,
		string(card.Status),
		string(card.Type),
		card.PlanName,
		card.ValidityDays,
		card.TotalClasses,
		card.RemainingClasses,
		applicable,
		card.MaxBookingsPerDay,
		card.ActivatedAtUnixUTC,
		card.ExpiresAtUnixUTC,
		card.PurchasePrice.Int64(),
		card.ActualPaid.Int64(),
		card.Discount.Int64(),
	).Scan(&cardID)
	if err != nil {
		return 0, wrapStoreError(errorSubjectCard, errorCodeInsert, err)
	}
	return booking.CardID(cardID), nil
}

func (store *Store) UpdateCardRemaining(ctx context.Context, cardID booking.CardID, from int, to int) error {
	if to < 0 {
		return wrapStoreError(errorSubjectCard, errorCodeUpdate, booking.ErrInsufficientClasses)
	}
	commandTag, err := store.db.Exec(ctx, sqlUpdateCardRemaining, cardID.Int64(), from, to)
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeUpdate, err)
	}
	if commandTag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCard, errorCodeUpdate, booking.ErrStaleWrite)
	}
	return nil
}

func (store *Store) ExpireCards(ctx context.Context, atUnixUTC int64) (int, error) {
	commandTag, err := store.db.Exec(ctx, sqlExpireCards, atUnixUTC)
	if err != nil {
		return 0, wrapStoreError(errorSubjectCard, errorCodeExpire, err)
	}
	return int(commandTag.RowsAffected()), nil
}

func (store *Store) InsertUsage(ctx context.Context, usage booking.UsageRecord) (booking.UsageID, error) {
	var usageID int64
	err := store.db.QueryRow(ctx, sqlInsertUsage,
		usage.CardID.Int64(),
		usage.UserID.Int64(),
		usage.BookingID.Int64(),
		usage.LessonID.Int64(),
		string(usage.Type),
		usage.ClassesConsumed,
		usage.RemainingBefore,
		usage.RemainingAfter,
		usage.UsedAtUnixUTC,
	).Scan(&usageID)
	if err != nil {
		return 0, wrapStoreError(errorSubjectUsage, errorCodeInsert, err)
	}
	return booking.UsageID(usageID), nil
}

func (store *Store) FindConsumeUsage(ctx context.Context, bookingID booking.BookingID) (booking.UsageRecord, error) {
	usage, err := scanUsage(store.db.QueryRow(ctx, sqlSelectConsumeUsage, bookingID.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeGet, booking.ErrUsageNotFound)
	}
	if err != nil {
		return booking.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeGet, err)
	}
	return usage, nil
}

func (store *Store) UpdateUsageType(ctx context.Context, usageID booking.UsageID, from booking.UsageType, to booking.UsageType) error {
	commandTag, err := store.db.Exec(ctx, sqlUpdateUsageType, usageID.Int64(), string(from), string(to))
	if err != nil {
		return wrapStoreError(errorSubjectUsage, errorCodeUpdate, err)
	}
	if commandTag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectUsage, errorCodeUpdate, booking.ErrStaleWrite)
	}
	return nil
}

func (store *Store) ListUsage(ctx context.Context, userID booking.UserID, cardID *booking.CardID) ([]booking.UsageRecord, error) {
	var rawCardID *int64
	if cardID != nil {
		value := cardID.Int64()
		rawCardID = &value
	}
	rows, err := store.db.Query(ctx, sqlListUsage, userID.Int64(), rawCardID)
	if err != nil {
		return nil, wrapStoreError(errorSubjectUsage, errorCodeList, err)
	}
	defer rows.Close()
	records := make([]booking.UsageRecord, 0)
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectUsage, errorCodeList, err)
		}
		records = append(records, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectUsage, errorCodeList, err)
	}
	return records, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func scanLesson(row pgx.Row) (booking.Lesson, error) {
	var (
		lesson   booking.Lesson
		lessonID int64
	)
	err := row.Scan(
		&lessonID,
		&lesson.Title,
		&lesson.TeacherID,
		&lesson.LocationID,
		&lesson.LessonType,
		&lesson.StartUnixUTC,
		&lesson.EndUnixUTC,
		&lesson.MaxStudents,
		&lesson.Active,
	)
	if err != nil {
		return booking.Lesson{}, err
	}
	lesson.ID = booking.LessonID(lessonID)
	return lesson, nil
}

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var (
		bookingID int64
		userID    int64
		lessonID  int64
		rawStatus string
		found     booking.Booking
	)
	if err := row.Scan(&bookingID, &userID, &lessonID, &rawStatus, &found.BookedUnixUTC, &found.UpdatedUnixUTC); err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(rawStatus)
	if err != nil {
		return booking.Booking{}, err
	}
	found.ID = booking.BookingID(bookingID)
	found.UserID = booking.UserID(userID)
	found.LessonID = booking.LessonID(lessonID)
	found.Status = status
	return found, nil
}

func scanPlan(row pgx.Row) (booking.Plan, error) {
	var (
		plan          booking.Plan
		planID        int64
		rawType       string
		rawApplicable *string
		priceCents    int64
	)
	err := row.Scan(
		&planID,
		&plan.Name,
		&plan.Description,
		&rawType,
		&plan.ValidityDays,
		&plan.TotalClasses,
		&rawApplicable,
		&plan.MaxBookingsPerDay,
		&priceCents,
		&plan.SortOrder,
		&plan.Active,
	)
	if err != nil {
		return booking.Plan{}, err
	}
	cardType, err := booking.ParseCardType(rawType)
	if err != nil {
		return booking.Plan{}, err
	}
	applicable, err := decodeLessonTypes(rawApplicable)
	if err != nil {
		return booking.Plan{}, err
	}
	plan.ID = booking.PlanID(planID)
	plan.Type = cardType
	plan.ApplicableLessonTypes = applicable
	plan.Price = booking.AmountCents(priceCents)
	return plan, nil
}

func scanCard(row pgx.Row) (booking.Card, error) {
	var (
		card               booking.Card
		cardID             int64
		userID             int64
		planID             int64
		rawStatus          string
		rawType            string
		rawApplicable      *string
		purchasePriceCents int64
		actualPaidCents    int64
		discountCents      int64
	)
	err := row.Scan(
		&cardID,
		&userID,
		&planID,
		&card.CardNumber,
		&rawStatus,
		&rawType,
		&card.PlanName,
		&card.ValidityDays,
		&card.TotalClasses,
		&card.RemainingClasses,
		&rawApplicable,
		&card.MaxBookingsPerDay,
		&card.ActivatedAtUnixUTC,
		&card.ExpiresAtUnixUTC,
		&purchasePriceCents,
		&actualPaidCents,
		&discountCents,
	)
	if err != nil {
		return booking.Card{}, err
	}
	status, err := booking.ParseCardStatus(rawStatus)
	if err != nil {
		return booking.Card{}, err
	}
	cardType, err := booking.ParseCardType(rawType)
	if err != nil {
		return booking.Card{}, err
	}
	applicable, err := decodeLessonTypes(rawApplicable)
	if err != nil {
		return booking.Card{}, err
	}
	card.ID = booking.CardID(cardID)
	card.UserID = booking.UserID(userID)
	card.PlanID = booking.PlanID(planID)
	card.Status = status
	card.Type = cardType
	card.ApplicableLessonTypes = applicable
	card.PurchasePrice = booking.AmountCents(purchasePriceCents)
	card.ActualPaid = booking.AmountCents(actualPaidCents)
	card.Discount = booking.AmountCents(discountCents)
	return card, nil
}

func scanUsage(row pgx.Row) (booking.UsageRecord, error) {
	var (
		usage        booking.UsageRecord
		usageID      int64
		cardID       int64
		userID       int64
		bookingID    int64
		lessonID     int64
		rawUsageType string
	)
	err := row.Scan(
		&usageID,
		&cardID,
		&userID,
		&bookingID,
		&lessonID,
		&rawUsageType,
		&usage.ClassesConsumed,
		&usage.RemainingBefore,
		&usage.RemainingAfter,
		&usage.UsedAtUnixUTC,
	)
	if err != nil {
		return booking.UsageRecord{}, err
	}
	usageType, err := booking.ParseUsageType(rawUsageType)
	if err != nil {
		return booking.UsageRecord{}, err
	}
	usage.ID = booking.UsageID(usageID)
	usage.CardID = booking.CardID(cardID)
	usage.UserID = booking.UserID(userID)
	usage.BookingID = booking.BookingID(bookingID)
	usage.LessonID = booking.LessonID(lessonID)
	usage.Type = usageType
	return usage, nil
}

// encodeLessonTypes keeps nil as SQL NULL, which means every lesson type.
func encodeLessonTypes(lessonTypes []string) (*string, error) {
	if lessonTypes == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(lessonTypes)
	if err != nil {
		return nil, err
	}
	value := string(encoded)
	return &value, nil
}

func decodeLessonTypes(raw *string) ([]string, error) {
	if raw == nil || *raw == "null" {
		return nil, nil
	}
	lessonTypes := make([]string, 0)
	if err := json.Unmarshal([]byte(*raw), &lessonTypes); err != nil {
		return nil, err
	}
	return lessonTypes, nil
}

func isBookingConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintBookingUserLesson
	}
	return false
}
