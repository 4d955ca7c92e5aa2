package booking

import (
	"context"
	"sort"
	"sync"
	"testing"
)

const stubNowUnixUTC = int64(1_700_000_000)

// stubData is an in-memory Store. It is used directly as the transaction store.
type stubData struct {
	users    map[string]User
	lessons  map[LessonID]Lesson
	bookings map[BookingID]Booking
	plans    map[PlanID]Plan
	cards    map[CardID]Card
	usage    map[UsageID]UsageRecord
	nextID   int64

	failures map[string]error
	// racingBooking simulates a concurrent transaction committing the same (user, lesson) first.
	racingBooking *Booking
}

// stubStore serializes transactions with a mutex and restores a snapshot on rollback.
type stubStore struct {
	*stubData
	mutex sync.Mutex
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{stubData: &stubData{
		users:    make(map[string]User),
		lessons:  make(map[LessonID]Lesson),
		bookings: make(map[BookingID]Booking),
		plans:    make(map[PlanID]Plan),
		cards:    make(map[CardID]Card),
		usage:    make(map[UsageID]UsageRecord),
		failures: make(map[string]error),
	}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.fail("WithTx"); err != nil {
		return err
	}
	snapshot := store.stubData.clone()
	if err := fn(ctx, store.stubData); err != nil {
		racing := store.stubData.racingBooking
		store.stubData = snapshot
		if racing != nil {
			store.stubData.racingBooking = nil
			store.stubData.bookings[racing.ID] = *racing
		}
		return err
	}
	return nil
}

func (store *stubStore) FindBooking(ctx context.Context, userID UserID, lessonID LessonID) (Booking, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.stubData.FindBooking(ctx, userID, lessonID)
}

func (data *stubData) clone() *stubData {
	copied := &stubData{
		users:         make(map[string]User, len(data.users)),
		lessons:       make(map[LessonID]Lesson, len(data.lessons)),
		bookings:      make(map[BookingID]Booking, len(data.bookings)),
		plans:         make(map[PlanID]Plan, len(data.plans)),
		cards:         make(map[CardID]Card, len(data.cards)),
		usage:         make(map[UsageID]UsageRecord, len(data.usage)),
		nextID:        data.nextID,
		failures:      data.failures,
		racingBooking: data.racingBooking,
	}
	for key, value := range data.users {
		copied.users[key] = value
	}
	for key, value := range data.lessons {
		copied.lessons[key] = value
	}
	for key, value := range data.bookings {
		copied.bookings[key] = value
	}
	for key, value := range data.plans {
		copied.plans[key] = value
	}
	for key, value := range data.cards {
		value.RemainingClasses = copyInt(value.RemainingClasses)
		copied.cards[key] = value
	}
	for key, value := range data.usage {
		copied.usage[key] = value
	}
	return copied
}

func (data *stubData) fail(method string) error {
	return data.failures[method]
}

func (data *stubData) newID() int64 {
	data.nextID++
	return data.nextID
}

func (data *stubData) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, data)
}

func (data *stubData) ResolveUserID(_ context.Context, openID OpenID) (UserID, error) {
	if err := data.fail("ResolveUserID"); err != nil {
		return 0, err
	}
	user, ok := data.users[openID.String()]
	if !ok {
		return 0, ErrUserNotFound
	}
	return user.ID, nil
}

func (data *stubData) UpsertUser(_ context.Context, openID OpenID, profile UserProfile) (UserID, error) {
	if err := data.fail("UpsertUser"); err != nil {
		return 0, err
	}
	user, ok := data.users[openID.String()]
	if !ok {
		user = User{ID: UserID(data.newID()), OpenID: openID}
	}
	if profile.NickName != nil {
		user.NickName = *profile.NickName
	}
	if profile.AvatarURL != nil {
		user.AvatarURL = *profile.AvatarURL
	}
	if profile.Phone != nil {
		user.Phone = *profile.Phone
	}
	data.users[openID.String()] = user
	return user.ID, nil
}

func (data *stubData) GetActiveLesson(_ context.Context, lessonID LessonID) (Lesson, error) {
	if err := data.fail("GetActiveLesson"); err != nil {
		return Lesson{}, err
	}
	lesson, ok := data.lessons[lessonID]
	if !ok || !lesson.Active {
		return Lesson{}, ErrLessonNotFound
	}
	return lesson, nil
}

func (data *stubData) ListLessons(_ context.Context, fromUnixUTC int64, toUnixUTC int64) ([]Lesson, error) {
	if err := data.fail("ListLessons"); err != nil {
		return nil, err
	}
	lessons := make([]Lesson, 0)
	for _, lesson := range data.lessons {
		if lesson.Active && lesson.StartUnixUTC >= fromUnixUTC && lesson.StartUnixUTC < toUnixUTC {
			lessons = append(lessons, lesson)
		}
	}
	sort.Slice(lessons, func(left, right int) bool {
		if lessons[left].StartUnixUTC != lessons[right].StartUnixUTC {
			return lessons[left].StartUnixUTC < lessons[right].StartUnixUTC
		}
		return lessons[left].ID < lessons[right].ID
	})
	return lessons, nil
}

func (data *stubData) CountConfirmedBookings(_ context.Context, lessonIDs []LessonID) (map[LessonID]int, error) {
	if err := data.fail("CountConfirmedBookings"); err != nil {
		return nil, err
	}
	counts := make(map[LessonID]int, len(lessonIDs))
	for _, lessonID := range lessonIDs {
		counts[lessonID] = 0
	}
	for _, booking := range data.bookings {
		if _, wanted := counts[booking.LessonID]; wanted && booking.Status == BookingStatusConfirmed {
			counts[booking.LessonID]++
		}
	}
	return counts, nil
}

func (data *stubData) FindBooking(_ context.Context, userID UserID, lessonID LessonID) (Booking, error) {
	if err := data.fail("FindBooking"); err != nil {
		return Booking{}, err
	}
	for _, booking := range data.bookings {
		if booking.UserID == userID && booking.LessonID == lessonID {
			return booking, nil
		}
	}
	return Booking{}, ErrBookingNotFound
}

func (data *stubData) GetConfirmedBooking(_ context.Context, bookingID BookingID, userID UserID) (Booking, error) {
	if err := data.fail("GetConfirmedBooking"); err != nil {
		return Booking{}, err
	}
	booking, ok := data.bookings[bookingID]
	if !ok || booking.UserID != userID || booking.Status != BookingStatusConfirmed {
		return Booking{}, ErrBookingNotFound
	}
	return booking, nil
}

func (data *stubData) InsertBooking(_ context.Context, userID UserID, lessonID LessonID, atUnixUTC int64) (BookingID, error) {
	if err := data.fail("InsertBooking"); err != nil {
		return 0, err
	}
	if data.racingBooking != nil {
		return 0, ErrBookingConflict
	}
	for _, booking := range data.bookings {
		if booking.UserID == userID && booking.LessonID == lessonID {
			return 0, ErrBookingConflict
		}
	}
	bookingID := BookingID(data.newID())
	data.bookings[bookingID] = Booking{
		ID:             bookingID,
		UserID:         userID,
		LessonID:       lessonID,
		Status:         BookingStatusConfirmed,
		BookedUnixUTC:  atUnixUTC,
		UpdatedUnixUTC: atUnixUTC,
	}
	return bookingID, nil
}

func (data *stubData) UpdateBookingStatus(_ context.Context, bookingID BookingID, from BookingStatus, to BookingStatus, atUnixUTC int64) error {
	if err := data.fail("UpdateBookingStatus"); err != nil {
		return err
	}
	booking, ok := data.bookings[bookingID]
	if !ok || booking.Status != from {
		return ErrStaleWrite
	}
	booking.Status = to
	booking.UpdatedUnixUTC = atUnixUTC
	if to == BookingStatusConfirmed {
		booking.BookedUnixUTC = atUnixUTC
	}
	data.bookings[bookingID] = booking
	return nil
}

func (data *stubData) ListUserBookings(_ context.Context, userID UserID, lessonIDs []LessonID) ([]Booking, error) {
	if err := data.fail("ListUserBookings"); err != nil {
		return nil, err
	}
	wanted := make(map[LessonID]bool, len(lessonIDs))
	for _, lessonID := range lessonIDs {
		wanted[lessonID] = true
	}
	bookings := make([]Booking, 0)
	for _, booking := range data.bookings {
		if booking.UserID == userID && wanted[booking.LessonID] {
			bookings = append(bookings, booking)
		}
	}
	return bookings, nil
}

func (data *stubData) CountUserBookingsByStatus(_ context.Context, userID UserID) (map[BookingStatus]int, error) {
	if err := data.fail("CountUserBookingsByStatus"); err != nil {
		return nil, err
	}
	counts := make(map[BookingStatus]int)
	for _, booking := range data.bookings {
		if booking.UserID == userID {
			counts[booking.Status]++
		}
	}
	return counts, nil
}

func (data *stubData) ListActivePlans(_ context.Context) ([]Plan, error) {
	if err := data.fail("ListActivePlans"); err != nil {
		return nil, err
	}
	plans := make([]Plan, 0)
	for _, plan := range data.plans {
		if plan.Active {
			plans = append(plans, plan)
		}
	}
	sort.Slice(plans, func(left, right int) bool {
		if plans[left].SortOrder != plans[right].SortOrder {
			return plans[left].SortOrder < plans[right].SortOrder
		}
		return plans[left].ID < plans[right].ID
	})
	return plans, nil
}

func (data *stubData) GetActivePlan(_ context.Context, planID PlanID) (Plan, error) {
	if err := data.fail("GetActivePlan"); err != nil {
		return Plan{}, err
	}
	plan, ok := data.plans[planID]
	if !ok || !plan.Active {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

func (data *stubData) ListActiveCards(_ context.Context, userID UserID, atUnixUTC int64) ([]Card, error) {
	if err := data.fail("ListActiveCards"); err != nil {
		return nil, err
	}
	cards := make([]Card, 0)
	for _, card := range data.cards {
		if card.UserID == userID && card.Status == CardStatusActive && card.ExpiresAtUnixUTC > atUnixUTC {
			card.RemainingClasses = copyInt(card.RemainingClasses)
			cards = append(cards, card)
		}
	}
	sort.Slice(cards, func(left, right int) bool { return cards[left].ID < cards[right].ID })
	return cards, nil
}

func (data *stubData) GetCard(_ context.Context, cardID CardID) (Card, error) {
	if err := data.fail("GetCard"); err != nil {
		return Card{}, err
	}
	card, ok := data.cards[cardID]
	if !ok {
		return Card{}, ErrCardNotFound
	}
	card.RemainingClasses = copyInt(card.RemainingClasses)
	return card, nil
}

func (data *stubData) InsertCard(_ context.Context, newCard NewCard) (CardID, error) {
	if err := data.fail("InsertCard"); err != nil {
		return 0, err
	}
	card := NewCardFromPurchase(newCard)
	card.ID = CardID(data.newID())
	data.cards[card.ID] = card
	return card.ID, nil
}

func (data *stubData) UpdateCardRemaining(_ context.Context, cardID CardID, from int, to int) error {
	if err := data.fail("UpdateCardRemaining"); err != nil {
		return err
	}
	card, ok := data.cards[cardID]
	if !ok || card.RemainingClasses == nil || *card.RemainingClasses != from {
		return ErrStaleWrite
	}
	if to < 0 {
		return ErrInsufficientClasses
	}
	remaining := to
	card.RemainingClasses = &remaining
	data.cards[cardID] = card
	return nil
}

func (data *stubData) ListCards(_ context.Context, userID UserID) ([]Card, error) {
	if err := data.fail("ListCards"); err != nil {
		return nil, err
	}
	cards := make([]Card, 0)
	for _, card := range data.cards {
		if card.UserID == userID {
			cards = append(cards, card)
		}
	}
	return cards, nil
}

func (data *stubData) ExpireCards(_ context.Context, atUnixUTC int64) (int, error) {
	if err := data.fail("ExpireCards"); err != nil {
		return 0, err
	}
	expired := 0
	for cardID, card := range data.cards {
		if card.Status == CardStatusActive && card.ExpiresAtUnixUTC <= atUnixUTC {
			card.Status = CardStatusExpired
			data.cards[cardID] = card
			expired++
		}
	}
	return expired, nil
}

func (data *stubData) InsertUsage(_ context.Context, usage UsageRecord) (UsageID, error) {
	if err := data.fail("InsertUsage"); err != nil {
		return 0, err
	}
	usage.ID = UsageID(data.newID())
	data.usage[usage.ID] = usage
	return usage.ID, nil
}

func (data *stubData) FindConsumeUsage(_ context.Context, bookingID BookingID) (UsageRecord, error) {
	if err := data.fail("FindConsumeUsage"); err != nil {
		return UsageRecord{}, err
	}
	var latest *UsageRecord
	for _, usage := range data.usage {
		if usage.BookingID != bookingID || usage.Type != UsageTypeConsume {
			continue
		}
		if latest == nil || usage.ID > latest.ID {
			candidate := usage
			latest = &candidate
		}
	}
	if latest == nil {
		return UsageRecord{}, ErrUsageNotFound
	}
	return *latest, nil
}

func (data *stubData) UpdateUsageType(_ context.Context, usageID UsageID, from UsageType, to UsageType) error {
	if err := data.fail("UpdateUsageType"); err != nil {
		return err
	}
	usage, ok := data.usage[usageID]
	if !ok || usage.Type != from {
		return ErrStaleWrite
	}
	usage.Type = to
	data.usage[usageID] = usage
	return nil
}

func (data *stubData) ListUsage(_ context.Context, userID UserID, cardID *CardID) ([]UsageRecord, error) {
	if err := data.fail("ListUsage"); err != nil {
		return nil, err
	}
	records := make([]UsageRecord, 0)
	for _, usage := range data.usage {
		if usage.UserID != userID {
			continue
		}
		if cardID != nil && usage.CardID != *cardID {
			continue
		}
		records = append(records, usage)
	}
	sort.Slice(records, func(left, right int) bool {
		if records[left].UsedAtUnixUTC != records[right].UsedAtUnixUTC {
			return records[left].UsedAtUnixUTC > records[right].UsedAtUnixUTC
		}
		return records[left].ID > records[right].ID
	})
	return records, nil
}

// Fixture helpers.

func (data *stubData) addUser(test *testing.T, rawOpenID string) (OpenID, UserID) {
	test.Helper()
	openID := mustOpenID(test, rawOpenID)
	userID, err := data.UpsertUser(context.Background(), openID, UserProfile{})
	if err != nil {
		test.Fatalf("add user: %v", err)
	}
	return openID, userID
}

func (data *stubData) addLesson(test *testing.T, lessonType string, maxStudents int, startUnixUTC int64) LessonID {
	test.Helper()
	lessonID := LessonID(data.newID())
	data.lessons[lessonID] = Lesson{
		ID:           lessonID,
		Title:        "lesson",
		LessonType:   lessonType,
		StartUnixUTC: startUnixUTC,
		EndUnixUTC:   startUnixUTC + 3600,
		MaxStudents:  maxStudents,
		Active:       true,
	}
	return lessonID
}

func (data *stubData) addCountCard(test *testing.T, userID UserID, total int, remaining int, expiresAtUnixUTC int64) CardID {
	test.Helper()
	totalClasses := total
	remainingClasses := remaining
	cardID := CardID(data.newID())
	data.cards[cardID] = Card{
		ID:               cardID,
		UserID:           userID,
		Status:           CardStatusActive,
		Type:             CardTypeCountBased,
		PlanName:         "ten pack",
		TotalClasses:     &totalClasses,
		RemainingClasses: &remainingClasses,
		ExpiresAtUnixUTC: expiresAtUnixUTC,
	}
	return cardID
}

func (data *stubData) addUnlimitedCard(test *testing.T, userID UserID, expiresAtUnixUTC int64) CardID {
	test.Helper()
	cardID := CardID(data.newID())
	data.cards[cardID] = Card{
		ID:               cardID,
		UserID:           userID,
		Status:           CardStatusActive,
		Type:             CardTypeUnlimited,
		PlanName:         "monthly",
		ExpiresAtUnixUTC: expiresAtUnixUTC,
	}
	return cardID
}

func (data *stubData) remaining(test *testing.T, cardID CardID) int {
	test.Helper()
	card, ok := data.cards[cardID]
	if !ok || card.RemainingClasses == nil {
		test.Fatalf("card %d has no remaining classes", cardID)
	}
	return *card.RemainingClasses
}

func (data *stubData) bookingsFor(userID UserID, lessonID LessonID) []Booking {
	matches := make([]Booking, 0)
	for _, booking := range data.bookings {
		if booking.UserID == userID && booking.LessonID == lessonID {
			matches = append(matches, booking)
		}
	}
	return matches
}

func (data *stubData) usageFor(bookingID BookingID) []UsageRecord {
	matches := make([]UsageRecord, 0)
	for _, usage := range data.usage {
		if usage.BookingID == bookingID {
			matches = append(matches, usage)
		}
	}
	sort.Slice(matches, func(left, right int) bool { return matches[left].ID < matches[right].ID })
	return matches
}

func copyInt(value *int) *int {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func fixedClock() int64 {
	return stubNowUnixUTC
}

func mustOpenID(test *testing.T, raw string) OpenID {
	test.Helper()
	openID, err := NewOpenID(raw)
	if err != nil {
		test.Fatalf("open id: %v", err)
	}
	return openID
}

func mustNewEngine(test *testing.T, store Store, options ...EngineOption) *Engine {
	test.Helper()
	engine, err := NewEngine(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("new engine: %v", err)
	}
	return engine
}

func mustBook(test *testing.T, engine *Engine, lessonID LessonID, openID OpenID) BookingOutcome {
	test.Helper()
	outcome, err := engine.Book(context.Background(), lessonID, openID)
	if err != nil {
		test.Fatalf("book lesson %d for %s: %v", lessonID, openID, err)
	}
	return outcome
}

func mustCancel(test *testing.T, engine *Engine, bookingID BookingID, openID OpenID) CancelOutcome {
	test.Helper()
	outcome, err := engine.Cancel(context.Background(), bookingID, openID)
	if err != nil {
		test.Fatalf("cancel booking %d for %s: %v", bookingID, openID, err)
	}
	return outcome
}

func (data *stubData) confirmedCount(lessonID LessonID) int {
	count := 0
	for _, booking := range data.bookings {
		if booking.LessonID == lessonID && booking.Status == BookingStatusConfirmed {
			count++
		}
	}
	return count
}
