package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

const (
	errorCodeInvalidPayload  = "invalid_payload"
	errorCodeInvalidOpenID   = "invalid_open_id"
	errorCodeInvalidLesson   = "invalid_lesson_id"
	errorCodeInvalidBooking  = "invalid_booking_id"
	errorCodeInvalidPlan     = "invalid_plan_id"
	errorCodeInvalidCard     = "invalid_card_id"
	errorCodeInvalidAmount   = "invalid_amount_cents"
	errorCodeInvalidStart    = "invalid_start"
	errorCodeRateLimited     = "rate_limited"
	errorCodeTryAgain        = "try_again"
	messageNoValidMembership = "no valid membership card, purchase one first"
	messageTryAgain          = "temporarily unavailable, try again"

	queryStart     = "start"
	queryOpenID    = "open_id"
	queryCardID    = "card_id"
	trailingJSON   = "unexpected data after JSON body"
	requestLogName = "request_id"
)

var errTrailingJSON = errors.New(trailingJSON)

type httpHandler struct {
	logger   *zap.Logger
	services Services
	cfg      Config
	nowFn    func() int64
}

type bookRequest struct {
	LessonID int64  `json:"lesson_id" binding:"required"`
	OpenID   string `json:"open_id" binding:"required"`
}

type cancelRequest struct {
	BookingID int64  `json:"booking_id" binding:"required"`
	OpenID    string `json:"open_id" binding:"required"`
}

type registerUserRequest struct {
	OpenID    string  `json:"open_id" binding:"required"`
	NickName  *string `json:"nick_name"`
	AvatarURL *string `json:"avatar_url"`
	Phone     *string `json:"phone"`
}

type purchaseRequest struct {
	OpenID          string `json:"open_id" binding:"required"`
	PlanID          int64  `json:"plan_id" binding:"required"`
	PaidAmountCents *int64 `json:"paid_amount_cents"`
}

func (handler *httpHandler) handleBook(ctx *gin.Context) {
	var request bookRequest
	if err := decodeStrict(ctx, &request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	lessonID, err := booking.NewLessonID(request.LessonID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidLesson, err.Error()))
		return
	}
	openID, ok := handler.openIDFrom(ctx, request.OpenID)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	outcome, err := handler.services.Engine.Book(requestCtx, lessonID, openID)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{
			"success":        true,
			"booking_id":     outcome.BookingID.Int64(),
			"already_booked": outcome.AlreadyBooked,
		})
	case errors.Is(err, booking.ErrNoValidMembership):
		ctx.JSON(http.StatusOK, gin.H{"success": false, "message": messageNoValidMembership})
	case booking.IsBusinessError(err):
		ctx.JSON(http.StatusOK, gin.H{"success": false, "booking_id": 0, "code": booking.ErrorCode(err)})
	default:
		handler.respondSystemFailure(ctx, "book failed", err)
	}
}

func (handler *httpHandler) handleCancel(ctx *gin.Context) {
	var request cancelRequest
	if err := decodeStrict(ctx, &request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	bookingID, err := booking.NewBookingID(request.BookingID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidBooking, err.Error()))
		return
	}
	openID, ok := handler.openIDFrom(ctx, request.OpenID)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	outcome, err := handler.services.Engine.Cancel(requestCtx, bookingID, openID)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{
			"success":          true,
			"cancelled_id":     outcome.BookingID.Int64(),
			"refunded":         outcome.Refunded,
			"refunded_classes": outcome.RefundedClasses,
		})
	case booking.IsBusinessError(err):
		ctx.JSON(http.StatusOK, gin.H{"success": false, "cancelled_id": 0, "code": booking.ErrorCode(err)})
	default:
		handler.respondSystemFailure(ctx, "cancel failed", err)
	}
}

func (handler *httpHandler) handleListLessons(ctx *gin.Context) {
	windowStart := handler.nowFn()
	if rawStart := ctx.Query(queryStart); rawStart != "" {
		parsed, err := strconv.ParseInt(rawStart, 10, 64)
		if err != nil || parsed < 0 || parsed > booking.MaxWindowStartUnixUTC {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidStart, "start must be a unix timestamp"))
			return
		}
		windowStart = parsed
	}
	var viewer booking.OpenID
	if rawOpenID := ctx.Query(queryOpenID); rawOpenID != "" {
		openID, ok := handler.openIDFrom(ctx, rawOpenID)
		if !ok {
			return
		}
		viewer = openID
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	views, err := handler.services.Query.ListLessonsWithBookingStatus(requestCtx, windowStart, viewer)
	if err != nil {
		handler.respondSystemFailure(ctx, "list lessons failed", err)
		return
	}
	payload := make([]lessonPayload, 0, len(views))
	for _, view := range views {
		payload = append(payload, newLessonPayload(view))
	}
	ctx.JSON(http.StatusOK, gin.H{"lessons": payload})
}

func (handler *httpHandler) handleRegisterUser(ctx *gin.Context) {
	var request registerUserRequest
	if err := decodeStrict(ctx, &request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	openID, ok := handler.openIDFrom(ctx, request.OpenID)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	userID, err := handler.services.Users.RegisterUser(requestCtx, openID, booking.UserProfile{
		NickName:  request.NickName,
		AvatarURL: request.AvatarURL,
		Phone:     request.Phone,
	})
	if err != nil {
		handler.respondSystemFailure(ctx, "register user failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user_id": userID.Int64()})
}

func (handler *httpHandler) handleUserStatistics(ctx *gin.Context) {
	openID, ok := handler.openIDFrom(ctx, ctx.Query(queryOpenID))
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	statistics, err := handler.services.Users.UserStatistics(requestCtx, openID)
	if err != nil {
		handler.respondSystemFailure(ctx, "user statistics failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"total":     statistics.Total,
		"confirmed": statistics.Confirmed,
		"completed": statistics.Completed,
		"cancelled": statistics.Cancelled,
		"no_show":   statistics.NoShow,
	})
}

func (handler *httpHandler) handleListPlans(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	plans, err := handler.services.Membership.ListPlans(requestCtx)
	if err != nil {
		handler.respondSystemFailure(ctx, "list plans failed", err)
		return
	}
	payload := make([]planPayload, 0, len(plans))
	for _, plan := range plans {
		payload = append(payload, newPlanPayload(plan))
	}
	ctx.JSON(http.StatusOK, gin.H{"plans": payload})
}

func (handler *httpHandler) handleListCards(ctx *gin.Context) {
	openID, ok := handler.openIDFrom(ctx, ctx.Query(queryOpenID))
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	cards, err := handler.services.Membership.ListCards(requestCtx, openID)
	if err != nil {
		handler.respondFailure(ctx, "list cards failed", err)
		return
	}
	payload := make([]cardPayload, 0, len(cards))
	for _, card := range cards {
		payload = append(payload, newCardPayload(card))
	}
	ctx.JSON(http.StatusOK, gin.H{"cards": payload})
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	var request purchaseRequest
	if err := decodeStrict(ctx, &request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	openID, ok := handler.openIDFrom(ctx, request.OpenID)
	if !ok {
		return
	}
	planID, err := booking.NewPlanID(request.PlanID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPlan, err.Error()))
		return
	}
	var paidAmount *booking.AmountCents
	if request.PaidAmountCents != nil {
		amount, err := booking.NewAmountCents(*request.PaidAmountCents)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidAmount, err.Error()))
			return
		}
		paidAmount = &amount
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	outcome, err := handler.services.Membership.Purchase(requestCtx, openID, planID, paidAmount)
	if err != nil {
		handler.respondFailure(ctx, "purchase failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":     true,
		"card_id":     outcome.CardID.Int64(),
		"card_number": outcome.CardNumber,
		"card":        newCardPayload(outcome.Card),
	})
}

func (handler *httpHandler) handleListUsage(ctx *gin.Context) {
	openID, ok := handler.openIDFrom(ctx, ctx.Query(queryOpenID))
	if !ok {
		return
	}
	var cardID *booking.CardID
	if rawCardID := ctx.Query(queryCardID); rawCardID != "" {
		parsed, err := strconv.ParseInt(rawCardID, 10, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidCard, "card_id must be an integer"))
			return
		}
		validated, err := booking.NewCardID(parsed)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidCard, err.Error()))
			return
		}
		cardID = &validated
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	records, err := handler.services.Membership.ListUsage(requestCtx, openID, cardID)
	if err != nil {
		handler.respondFailure(ctx, "list usage failed", err)
		return
	}
	payload := make([]usagePayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, newUsagePayload(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"records": payload})
}

func (handler *httpHandler) openIDFrom(ctx *gin.Context, raw string) (booking.OpenID, bool) {
	openID, err := booking.NewOpenID(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidOpenID, "open_id is required"))
		return booking.OpenID{}, false
	}
	return openID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

// respondFailure reports business failures with their stable code and hides system causes.
func (handler *httpHandler) respondFailure(ctx *gin.Context, message string, err error) {
	if !booking.IsBusinessError(err) {
		handler.respondSystemFailure(ctx, message, err)
		return
	}
	statusCode := http.StatusBadRequest
	if errors.Is(err, booking.ErrUserNotFound) || errors.Is(err, booking.ErrPlanNotFound) {
		statusCode = http.StatusNotFound
	}
	code := booking.ErrorCode(err)
	ctx.JSON(statusCode, errorResponse(code, code))
}

func (handler *httpHandler) respondSystemFailure(ctx *gin.Context, message string, err error) {
	handler.logger.Error(message, zap.String(requestLogName, ctx.GetString(contextKeyRequest)), zap.Error(err))
	ctx.JSON(http.StatusServiceUnavailable, errorResponse(errorCodeTryAgain, messageTryAgain))
}

// decodeStrict rejects unknown fields and trailing data, then applies binding rules.
func decodeStrict(ctx *gin.Context, target any) error {
	decoder := json.NewDecoder(ctx.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return errTrailingJSON
	}
	return binding.Validator.ValidateStruct(target)
}
