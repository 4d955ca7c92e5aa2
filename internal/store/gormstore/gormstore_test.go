package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testNowUnixUTC = int64(1_700_000_000)

func TestEngineOverSQLiteSeatHandoff(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	openIDA, userIDA := seedUser(test, store, "user-a")
	openIDB, userIDB := seedUser(test, store, "user-b")
	lessonID := seedLesson(test, db, "yoga", 1, testNowUnixUTC+3600)
	seedCard(test, db, userIDA, booking.CardTypeUnlimited, nil, testNowUnixUTC+30*86400, nil)
	cardB := seedCard(test, db, userIDB, booking.CardTypeCountBased, intPointer(1), testNowUnixUTC+30*86400, nil)
	engine := newEngine(test, store)

	bookingA, err := engine.Book(ctx, lessonID, openIDA)
	if err != nil {
		test.Fatalf("book A: %v", err)
	}
	if _, err := engine.Book(ctx, lessonID, openIDB); !errors.Is(err, booking.ErrLessonFull) {
		test.Fatalf("expected lesson full, got %v", err)
	}
	if _, err := engine.Cancel(ctx, bookingA.BookingID, openIDA); err != nil {
		test.Fatalf("cancel A: %v", err)
	}
	bookingB, err := engine.Book(ctx, lessonID, openIDB)
	if err != nil {
		test.Fatalf("book B: %v", err)
	}
	if remaining := cardRemaining(test, store, cardB); remaining != 0 {
		test.Fatalf("expected B exhausted, got %d", remaining)
	}
	cancelled, err := engine.Cancel(ctx, bookingB.BookingID, openIDB)
	if err != nil {
		test.Fatalf("cancel B: %v", err)
	}
	if cancelled.RefundedClasses != 1 || cardRemaining(test, store, cardB) != 1 {
		test.Fatalf("expected B refunded, got %+v", cancelled)
	}
	counts, err := store.CountConfirmedBookings(ctx, []booking.LessonID{lessonID})
	if err != nil || counts[lessonID] != 0 {
		test.Fatalf("expected empty lesson, got %v, %v", counts, err)
	}
}

func TestEngineOverSQLiteRebookAndDoubleCancel(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	openID, userID := seedUser(test, store, "rebooker")
	lessonID := seedLesson(test, db, "yoga", 5, testNowUnixUTC+3600)
	cardID := seedCard(test, db, userID, booking.CardTypeCountBased, intPointer(3), testNowUnixUTC+30*86400, nil)
	engine := newEngine(test, store)

	first, err := engine.Book(ctx, lessonID, openID)
	if err != nil {
		test.Fatalf("book: %v", err)
	}
	if _, err := engine.Cancel(ctx, first.BookingID, openID); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if _, err := engine.Cancel(ctx, first.BookingID, openID); !errors.Is(err, booking.ErrBookingNotFound) {
		test.Fatalf("expected booking not found on second cancel, got %v", err)
	}
	if cardRemaining(test, store, cardID) != 3 {
		test.Fatalf("double cancel changed balance to %d", cardRemaining(test, store, cardID))
	}
	second, err := engine.Book(ctx, lessonID, openID)
	if err != nil {
		test.Fatalf("rebook: %v", err)
	}
	if second.BookingID != first.BookingID {
		test.Fatalf("expected slot %d reused, got %d", first.BookingID, second.BookingID)
	}
	var rows int64
	if err := db.Model(&Booking{}).Where("user_id = ? AND lesson_id = ?", userID.Int64(), lessonID.Int64()).Count(&rows).Error; err != nil {
		test.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		test.Fatalf("expected one booking row, got %d", rows)
	}
	repeat, err := engine.Book(ctx, lessonID, openID)
	if err != nil || !repeat.AlreadyBooked {
		test.Fatalf("expected idempotent repeat, got %+v, %v", repeat, err)
	}
	if cardRemaining(test, store, cardID) != 2 {
		test.Fatalf("expected 2 remaining, got %d", cardRemaining(test, store, cardID))
	}
}

func TestEngineOverSQLiteNeverOverbooks(test *testing.T) {
	test.Parallel()
	const (
		capacity = 2
		bookers  = 8
	)
	db, store := openTestStore(test)
	lessonID := seedLesson(test, db, "yoga", capacity, testNowUnixUTC+3600)
	openIDs := make([]booking.OpenID, 0, bookers)
	for index := 0; index < bookers; index++ {
		openID, userID := seedUser(test, store, fmt.Sprintf("booker-%d", index))
		seedCard(test, db, userID, booking.CardTypeCountBased, intPointer(1), testNowUnixUTC+30*86400, nil)
		openIDs = append(openIDs, openID)
	}
	engine := newEngine(test, store)

	var waitGroup sync.WaitGroup
	var mutex sync.Mutex
	succeeded := 0
	for _, openID := range openIDs {
		waitGroup.Add(1)
		go func(openID booking.OpenID) {
			defer waitGroup.Done()
			_, err := engine.Book(context.Background(), lessonID, openID)
			if err == nil {
				mutex.Lock()
				succeeded++
				mutex.Unlock()
				return
			}
			if !errors.Is(err, booking.ErrLessonFull) {
				test.Errorf("unexpected error: %v", err)
			}
		}(openID)
	}
	waitGroup.Wait()

	if succeeded != capacity {
		test.Fatalf("expected %d successes, got %d", capacity, succeeded)
	}
	var negative int64
	if err := db.Model(&UserMembershipCard{}).Where("remaining_classes < 0").Count(&negative).Error; err != nil || negative != 0 {
		test.Fatalf("found %d negative balances (%v)", negative, err)
	}
	var consumed int64
	if err := db.Model(&MembershipCardUsage{}).Where("usage_type = ?", "consume").Count(&consumed).Error; err != nil || consumed != capacity {
		test.Fatalf("expected %d consume rows, got %d (%v)", capacity, consumed, err)
	}
}

func TestEngineOverSQLiteConcurrentCancelRefundsOnce(test *testing.T) {
	test.Parallel()
	const cancellers = 8
	db, store := openTestStore(test)
	ctx := context.Background()
	openID, userID := seedUser(test, store, "canceller")
	lessonID := seedLesson(test, db, "yoga", 5, testNowUnixUTC+3600)
	cardID := seedCard(test, db, userID, booking.CardTypeCountBased, intPointer(3), testNowUnixUTC+30*86400, nil)
	engine := newEngine(test, store)
	booked, err := engine.Book(ctx, lessonID, openID)
	if err != nil {
		test.Fatalf("book: %v", err)
	}

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		cancelled int
		notFound  int
	)
	for index := 0; index < cancellers; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := engine.Cancel(context.Background(), booked.BookingID, openID)
			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				cancelled++
			case errors.Is(err, booking.ErrBookingNotFound):
				notFound++
			default:
				test.Errorf("unexpected cancel error: %v", err)
			}
		}()
	}
	waitGroup.Wait()

	if cancelled != 1 || notFound != cancellers-1 {
		test.Fatalf("expected 1 cancel and %d not found, got %d and %d", cancellers-1, cancelled, notFound)
	}
	if remaining := cardRemaining(test, store, cardID); remaining != 3 {
		test.Fatalf("expected balance restored to 3, got %d", remaining)
	}
	var refunds int64
	if err := db.Model(&MembershipCardUsage{}).Where("booking_id = ? AND usage_type = ?", booked.BookingID.Int64(), "refund").Count(&refunds).Error; err != nil || refunds != 1 {
		test.Fatalf("expected one refund row, got %d (%v)", refunds, err)
	}
}

func TestQueryServiceOverSQLiteSnapshot(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	openID, userID := seedUser(test, store, "snapshot-viewer")
	lessonID := seedLesson(test, db, "yoga", 4, testNowUnixUTC+3600)
	seedCard(test, db, userID, booking.CardTypeUnlimited, nil, testNowUnixUTC+30*86400, nil)
	booked, err := newEngine(test, store).Book(ctx, lessonID, openID)
	if err != nil {
		test.Fatalf("book: %v", err)
	}

	var seen []booking.Lesson
	err = store.WithSnapshot(ctx, func(ctx context.Context, snapshot booking.Store) error {
		lessons, err := snapshot.ListLessons(ctx, testNowUnixUTC, testNowUnixUTC+7200)
		seen = lessons
		return err
	})
	if err != nil || len(seen) != 1 {
		test.Fatalf("snapshot read: %d lessons, %v", len(seen), err)
	}
	query, err := booking.NewQueryService(store)
	if err != nil {
		test.Fatalf("query service: %v", err)
	}
	views, err := query.ListLessonsWithBookingStatus(ctx, testNowUnixUTC, openID)
	if err != nil {
		test.Fatalf("list lessons: %v", err)
	}
	if len(views) != 1 || views[0].CurrentStudents != 1 || !views[0].IsBooked || *views[0].BookingID != booked.BookingID {
		test.Fatalf("unexpected views %+v", views)
	}
}

func TestInsertBookingReportsConflict(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	_, userID := seedUser(test, store, "dup")
	lessonID := seedLesson(test, db, "yoga", 5, testNowUnixUTC)
	if _, err := store.InsertBooking(ctx, userID, lessonID, testNowUnixUTC); err != nil {
		test.Fatalf("insert booking: %v", err)
	}
	if _, err := store.InsertBooking(ctx, userID, lessonID, testNowUnixUTC); !errors.Is(err, booking.ErrBookingConflict) {
		test.Fatalf("expected booking conflict, got %v", err)
	}
}

func TestCompareAndSetUpdates(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	_, userID := seedUser(test, store, "cas")
	lessonID := seedLesson(test, db, "yoga", 5, testNowUnixUTC)
	cardID := seedCard(test, db, userID, booking.CardTypeCountBased, intPointer(2), testNowUnixUTC+86400, nil)
	bookingID, err := store.InsertBooking(ctx, userID, lessonID, testNowUnixUTC)
	if err != nil {
		test.Fatalf("insert booking: %v", err)
	}

	if err := store.UpdateCardRemaining(ctx, cardID, 5, 4); !errors.Is(err, booking.ErrStaleWrite) {
		test.Fatalf("expected stale write for wrong balance, got %v", err)
	}
	if err := store.UpdateCardRemaining(ctx, cardID, 2, -1); !errors.Is(err, booking.ErrInsufficientClasses) {
		test.Fatalf("expected insufficient classes, got %v", err)
	}
	if err := store.UpdateCardRemaining(ctx, cardID, 2, 1); err != nil {
		test.Fatalf("update remaining: %v", err)
	}
	if err := store.UpdateBookingStatus(ctx, bookingID, booking.BookingStatusCancelled, booking.BookingStatusConfirmed, testNowUnixUTC); !errors.Is(err, booking.ErrStaleWrite) {
		test.Fatalf("expected stale write for wrong status, got %v", err)
	}
	if _, err := store.GetConfirmedBooking(ctx, bookingID, userID+1); !errors.Is(err, booking.ErrBookingNotFound) {
		test.Fatalf("expected foreign booking to be hidden, got %v", err)
	}
	if _, err := store.FindConsumeUsage(ctx, bookingID); !errors.Is(err, booking.ErrUsageNotFound) {
		test.Fatalf("expected usage not found, got %v", err)
	}
}

func TestWithTxRollsBack(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	_, userID := seedUser(test, store, "rollback")
	lessonID := seedLesson(test, db, "yoga", 5, testNowUnixUTC)
	failure := errors.New("abort")

	err := store.WithTx(ctx, func(ctx context.Context, txStore booking.Store) error {
		if _, err := txStore.InsertBooking(ctx, userID, lessonID, testNowUnixUTC); err != nil {
			return err
		}
		return failure
	})

	if !errors.Is(err, failure) {
		test.Fatalf("expected abort error, got %v", err)
	}
	if _, err := store.FindBooking(ctx, userID, lessonID); !errors.Is(err, booking.ErrBookingNotFound) {
		test.Fatalf("expected rollback to discard booking, got %v", err)
	}
}

func TestUpsertUserKeepsOmittedProfileFields(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	openID := mustOpenID(test, "profile")
	nickName := "Grace"
	phone := "555-0199"
	firstID, err := store.UpsertUser(ctx, openID, booking.UserProfile{NickName: &nickName, Phone: &phone})
	if err != nil {
		test.Fatalf("upsert: %v", err)
	}
	avatar := "https://example.com/a.png"
	secondID, err := store.UpsertUser(ctx, openID, booking.UserProfile{AvatarURL: &avatar})
	if err != nil {
		test.Fatalf("upsert again: %v", err)
	}
	if firstID != secondID {
		test.Fatalf("expected stable id, got %d and %d", firstID, secondID)
	}
	var model User
	if err := db.Where("open_id = ?", openID.String()).Take(&model).Error; err != nil {
		test.Fatalf("load user: %v", err)
	}
	if model.NickName == nil || *model.NickName != nickName || model.Phone == nil || *model.Phone != phone || model.AvatarURL == nil || *model.AvatarURL != avatar {
		test.Fatalf("profile not merged: %+v", model)
	}
	if _, err := store.ResolveUserID(ctx, mustOpenID(test, "missing")); !errors.Is(err, booking.ErrUserNotFound) {
		test.Fatalf("expected user not found, got %v", err)
	}
}

func TestPurchaseKeepsLessonTypeWildcard(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	openID, userID := seedUser(test, store, "buyer")
	restricted := MembershipPlan{Name: "Yoga Pack", CardType: "count_based", ValidityDays: 10, TotalClasses: intPointer(5), ApplicableLessonTypes: []byte(`["yoga"]`), PriceCents: 1000, SortOrder: 2, IsActive: true}
	open := MembershipPlan{Name: "Anything", CardType: "unlimited", ValidityDays: 30, PriceCents: 5000, SortOrder: 1, IsActive: true}
	hidden := MembershipPlan{Name: "Retired", CardType: "unlimited", ValidityDays: 30, PriceCents: 5000, IsActive: false}
	for _, plan := range []*MembershipPlan{&restricted, &open, &hidden} {
		if err := db.Create(plan).Error; err != nil {
			test.Fatalf("seed plan: %v", err)
		}
	}
	service, err := booking.NewMembershipService(store, func() int64 { return testNowUnixUTC })
	if err != nil {
		test.Fatalf("membership service: %v", err)
	}

	plans, err := service.ListPlans(ctx)
	if err != nil || len(plans) != 2 || plans[0].Name != "Anything" {
		test.Fatalf("unexpected plans %+v, %v", plans, err)
	}
	restrictedCard, err := service.Purchase(ctx, openID, booking.PlanID(restricted.ID), nil)
	if err != nil {
		test.Fatalf("purchase restricted: %v", err)
	}
	openCard, err := service.Purchase(ctx, openID, booking.PlanID(open.ID), nil)
	if err != nil {
		test.Fatalf("purchase open: %v", err)
	}
	if _, err := service.Purchase(ctx, openID, booking.PlanID(hidden.ID), nil); !errors.Is(err, booking.ErrPlanNotFound) {
		test.Fatalf("expected plan not found, got %v", err)
	}

	cards, err := store.ListActiveCards(ctx, userID, testNowUnixUTC)
	if err != nil || len(cards) != 2 {
		test.Fatalf("expected two cards, got %d, %v", len(cards), err)
	}
	for _, card := range cards {
		switch card.ID {
		case restrictedCard.CardID:
			if len(card.ApplicableLessonTypes) != 1 || card.ApplicableLessonTypes[0] != "yoga" || *card.RemainingClasses != 5 {
				test.Fatalf("restricted card lost its terms: %+v", card)
			}
			if card.AppliesTo("pilates") {
				test.Fatalf("restricted card applies to pilates")
			}
		case openCard.CardID:
			if card.ApplicableLessonTypes != nil || card.RemainingClasses != nil {
				test.Fatalf("open card should be a wildcard without balance: %+v", card)
			}
		default:
			test.Fatalf("unexpected card %d", card.ID)
		}
	}
}

func TestExpireCardsAndUsageHistory(test *testing.T) {
	test.Parallel()
	db, store := openTestStore(test)
	ctx := context.Background()
	openID, userID := seedUser(test, store, "history")
	lessonID := seedLesson(test, db, "yoga", 5, testNowUnixUTC+3600)
	liveCard := seedCard(test, db, userID, booking.CardTypeCountBased, intPointer(4), testNowUnixUTC+86400, nil)
	seedCard(test, db, userID, booking.CardTypeUnlimited, nil, testNowUnixUTC-1, nil)
	engine := newEngine(test, store)
	if _, err := engine.Book(ctx, lessonID, openID); err != nil {
		test.Fatalf("book: %v", err)
	}

	expired, err := store.ExpireCards(ctx, testNowUnixUTC)
	if err != nil || expired != 1 {
		test.Fatalf("expected one expired card, got %d, %v", expired, err)
	}
	usage, err := store.ListUsage(ctx, userID, &liveCard)
	if err != nil || len(usage) != 1 {
		test.Fatalf("expected one usage row, got %d, %v", len(usage), err)
	}
	if usage[0].RemainingBefore == nil || *usage[0].RemainingBefore != 4 || *usage[0].RemainingAfter != 3 {
		test.Fatalf("unexpected usage snapshot: %+v", usage[0])
	}
	statistics, err := store.CountUserBookingsByStatus(ctx, userID)
	if err != nil || statistics[booking.BookingStatusConfirmed] != 1 {
		test.Fatalf("unexpected statistics %v, %v", statistics, err)
	}
	lessons, err := store.ListLessons(ctx, testNowUnixUTC, testNowUnixUTC+7200)
	if err != nil || len(lessons) != 1 || lessons[0].ID != lessonID {
		test.Fatalf("unexpected lessons %+v, %v", lessons, err)
	}
}

func openTestStore(test *testing.T) (*gorm.DB, *Store) {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/classbook.db"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	return db, New(db)
}

func newEngine(test *testing.T, store booking.Store) *booking.Engine {
	test.Helper()
	engine, err := booking.NewEngine(store, func() int64 { return testNowUnixUTC })
	if err != nil {
		test.Fatalf("engine init failed: %v", err)
	}
	return engine
}

func seedUser(test *testing.T, store *Store, rawOpenID string) (booking.OpenID, booking.UserID) {
	test.Helper()
	openID := mustOpenID(test, rawOpenID)
	userID, err := store.UpsertUser(context.Background(), openID, booking.UserProfile{})
	if err != nil {
		test.Fatalf("seed user: %v", err)
	}
	return openID, userID
}

func seedLesson(test *testing.T, db *gorm.DB, lessonType string, maxStudents int, startUnixUTC int64) booking.LessonID {
	test.Helper()
	model := Lesson{
		Title:       "Morning " + lessonType,
		TeacherID:   1,
		LocationID:  1,
		LessonType:  lessonType,
		StartTime:   time.Unix(startUnixUTC, 0).UTC(),
		EndTime:     time.Unix(startUnixUTC+3600, 0).UTC(),
		MaxStudents: maxStudents,
		IsActive:    true,
	}
	if err := db.Create(&model).Error; err != nil {
		test.Fatalf("seed lesson: %v", err)
	}
	return booking.LessonID(model.ID)
}

func seedCard(test *testing.T, db *gorm.DB, userID booking.UserID, cardType booking.CardType, classes *int, expiresAtUnixUTC int64, lessonTypes []byte) booking.CardID {
	test.Helper()
	model := UserMembershipCard{
		UserID:                userID.Int64(),
		PlanID:                1,
		CardNumber:            fmt.Sprintf("MC-%d-%d-%s", userID, expiresAtUnixUTC, cardType),
		Status:                string(booking.CardStatusActive),
		CardType:              string(cardType),
		PlanName:              "seeded",
		ValidityDays:          30,
		TotalClasses:          classes,
		RemainingClasses:      classes,
		ApplicableLessonTypes: lessonTypes,
		ActivatedAt:           time.Unix(testNowUnixUTC-86400, 0).UTC(),
		ExpiresAt:             time.Unix(expiresAtUnixUTC, 0).UTC(),
		CreatedAt:             time.Unix(testNowUnixUTC-86400, 0).UTC(),
	}
	if classes != nil {
		total := *classes
		model.TotalClasses = &total
	}
	if err := db.Create(&model).Error; err != nil {
		test.Fatalf("seed card: %v", err)
	}
	return booking.CardID(model.ID)
}

func cardRemaining(test *testing.T, store *Store, cardID booking.CardID) int {
	test.Helper()
	card, err := store.GetCard(context.Background(), cardID)
	if err != nil {
		test.Fatalf("get card: %v", err)
	}
	if card.RemainingClasses == nil {
		test.Fatalf("card %d has no balance", cardID)
	}
	return *card.RemainingClasses
}

func intPointer(value int) *int {
	return &value
}

func mustOpenID(test *testing.T, raw string) booking.OpenID {
	test.Helper()
	openID, err := booking.NewOpenID(raw)
	if err != nil {
		test.Fatalf("open id: %v", err)
	}
	return openID
}
