package booking

const (
	operationBook        = "book"
	operationCancel      = "cancel"
	operationPurchase    = "purchase"
	operationExpireCards = "expire_cards"
	operationRegister    = "register_user"

	errorOperationEngine     = "engine"
	errorOperationMembership = "membership"
	errorOperationQuery      = "query"
	errorSubjectBook         = "book"
	errorSubjectCancel       = "cancel"
	errorSubjectPurchase     = "purchase"
	errorSubjectLessons      = "lessons"
	errorCodeSystem          = "system"

	anomalyRefundUsageMissing = "refund_usage_missing"
	anomalyRefundCardMissing  = "refund_card_missing"
	anomalyRefundClamped      = "refund_clamped"

	// classesPerBooking is the credit a count_based card pays for one seat.
	classesPerBooking = 1

	secondsPerDay             = int64(24 * 60 * 60)
	defaultLessonWindowSecond = 14 * secondsPerDay

	cardNumberPrefix = "MC"
	cardNumberLength = 16

	tracerName = "github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	spanBook   = "booking.Engine.Book"
	spanCancel = "booking.Engine.Cancel"
)
