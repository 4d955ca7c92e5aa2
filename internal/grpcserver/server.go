package grpcserver

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	serviceName = "classbook.booking.v1.BookingService"

	methodBook        = "Book"
	methodCancel      = "Cancel"
	methodListLessons = "ListLessons"

	fullMethodBook        = "/" + serviceName + "/" + methodBook
	fullMethodCancel      = "/" + serviceName + "/" + methodCancel
	fullMethodListLessons = "/" + serviceName + "/" + methodListLessons

	errorLessonFull         = "lesson_full"
	errorNoValidMembership  = "no_valid_membership"
	errorUserNotFound       = "user_not_found"
	errorLessonNotFound     = "lesson_not_found"
	errorBookingNotFound    = "booking_not_found"
	errorInvalidOpenID      = "invalid_open_id"
	errorInvalidLessonID    = "invalid_lesson_id"
	errorInvalidBookingID   = "invalid_booking_id"
	errorTryAgain           = "try_again"
	errorInvalidWindowStart = "invalid_window_start"
)

// BookingEngine is the mutation side served over gRPC.
type BookingEngine interface {
	Book(ctx context.Context, lessonID booking.LessonID, openID booking.OpenID) (booking.BookingOutcome, error)
	Cancel(ctx context.Context, bookingID booking.BookingID, openID booking.OpenID) (booking.CancelOutcome, error)
}

// LessonQuery is the read side served over gRPC.
type LessonQuery interface {
	ListLessonsWithBookingStatus(ctx context.Context, windowStartUnixUTC int64, openID booking.OpenID) ([]booking.LessonView, error)
}

// BookingServiceServer is the handler contract of the booking service descriptor.
type BookingServiceServer interface {
	Book(ctx context.Context, request *BookRequest) (*BookResponse, error)
	Cancel(ctx context.Context, request *CancelRequest) (*CancelResponse, error)
	ListLessons(ctx context.Context, request *ListLessonsRequest) (*ListLessonsResponse, error)
}

// BookingServer exposes booking and lesson listing over gRPC.
type BookingServer struct {
	engine BookingEngine
	query  LessonQuery
	logger *zap.Logger
}

// NewBookingServer constructs a gRPC server for the booking engine.
func NewBookingServer(engine BookingEngine, query LessonQuery, logger *zap.Logger) *BookingServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingServer{engine: engine, query: query, logger: logger}
}

// Register attaches the booking service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, server BookingServiceServer) {
	registrar.RegisterService(&bookingServiceDesc, server)
}

func (server *BookingServer) Book(ctx context.Context, request *BookRequest) (*BookResponse, error) {
	lessonID, err := booking.NewLessonID(request.LessonID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidLessonID)
	}
	openID, err := booking.NewOpenID(request.OpenID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidOpenID)
	}
	outcome, err := server.engine.Book(ctx, lessonID, openID)
	if err != nil {
		return nil, server.mapToGRPCError(methodBook, err)
	}
	return &BookResponse{BookingID: outcome.BookingID.Int64(), AlreadyBooked: outcome.AlreadyBooked}, nil
}

func (server *BookingServer) Cancel(ctx context.Context, request *CancelRequest) (*CancelResponse, error) {
	bookingID, err := booking.NewBookingID(request.BookingID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidBookingID)
	}
	openID, err := booking.NewOpenID(request.OpenID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidOpenID)
	}
	outcome, err := server.engine.Cancel(ctx, bookingID, openID)
	if err != nil {
		return nil, server.mapToGRPCError(methodCancel, err)
	}
	return &CancelResponse{
		CancelledID:     outcome.BookingID.Int64(),
		Refunded:        outcome.Refunded,
		RefundedClasses: outcome.RefundedClasses,
	}, nil
}

func (server *BookingServer) ListLessons(ctx context.Context, request *ListLessonsRequest) (*ListLessonsResponse, error) {
	if request.WindowStartUnixUTC < 0 || request.WindowStartUnixUTC > booking.MaxWindowStartUnixUTC {
		return nil, status.Error(codes.InvalidArgument, errorInvalidWindowStart)
	}
	var viewer booking.OpenID
	if request.OpenID != "" {
		openID, err := booking.NewOpenID(request.OpenID)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, errorInvalidOpenID)
		}
		viewer = openID
	}
	views, err := server.query.ListLessonsWithBookingStatus(ctx, request.WindowStartUnixUTC, viewer)
	if err != nil {
		return nil, server.mapToGRPCError(methodListLessons, err)
	}
	response := &ListLessonsResponse{Lessons: make([]LessonMessage, 0, len(views))}
	for _, view := range views {
		message := LessonMessage{
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
			message.BookingID = view.BookingID.Int64()
		}
		response.Lessons = append(response.Lessons, message)
	}
	return response, nil
}

func (server *BookingServer) mapToGRPCError(method string, source error) error {
	switch {
	case errors.Is(source, booking.ErrSystemFailure):
		// causes of system failures stay server-side
	case errors.Is(source, booking.ErrLessonFull):
		return status.Error(codes.FailedPrecondition, errorLessonFull)
	case errors.Is(source, booking.ErrNoValidMembership):
		return status.Error(codes.FailedPrecondition, errorNoValidMembership)
	case errors.Is(source, booking.ErrUserNotFound):
		return status.Error(codes.NotFound, errorUserNotFound)
	case errors.Is(source, booking.ErrLessonNotFound):
		return status.Error(codes.NotFound, errorLessonNotFound)
	case errors.Is(source, booking.ErrBookingNotFound):
		return status.Error(codes.NotFound, errorBookingNotFound)
	case errors.Is(source, booking.ErrInvalidOpenID):
		return status.Error(codes.InvalidArgument, errorInvalidOpenID)
	case errors.Is(source, booking.ErrInvalidWindowStart):
		return status.Error(codes.InvalidArgument, errorInvalidWindowStart)
	}
	server.logger.Error("booking rpc failed", zap.String("method", method), zap.Error(source))
	return status.Error(codes.Unavailable, errorTryAgain)
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodBook, Handler: bookHandler},
		{MethodName: methodCancel, Handler: cancelHandler},
		{MethodName: methodListLessons, Handler: listLessonsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "classbook/booking/v1/booking.json",
}

func bookHandler(service any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(BookRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	handler := service.(BookingServiceServer)
	if interceptor == nil {
		return handler.Book(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: service, FullMethod: fullMethodBook}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return handler.Book(ctx, request.(*BookRequest))
	})
}

func cancelHandler(service any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(CancelRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	handler := service.(BookingServiceServer)
	if interceptor == nil {
		return handler.Cancel(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: service, FullMethod: fullMethodCancel}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return handler.Cancel(ctx, request.(*CancelRequest))
	})
}

func listLessonsHandler(service any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(ListLessonsRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	handler := service.(BookingServiceServer)
	if interceptor == nil {
		return handler.ListLessons(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: service, FullMethod: fullMethodListLessons}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return handler.ListLessons(ctx, request.(*ListLessonsRequest))
	})
}
