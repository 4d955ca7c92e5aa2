package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MarkoPoloResearchLab/classbook/internal/events"
	"github.com/MarkoPoloResearchLab/classbook/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/classbook/internal/httpapi"
	"github.com/MarkoPoloResearchLab/classbook/internal/jobs"
	"github.com/MarkoPoloResearchLab/classbook/internal/oplog"
	"github.com/MarkoPoloResearchLab/classbook/internal/telemetry"
	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	serviceName     = "studiod"
	serviceVersion  = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

type application struct {
	engine     *booking.Engine
	query      *booking.QueryService
	users      *booking.UserService
	membership *booking.MembershipService
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	engineOptions := []booking.EngineOption{booking.WithOperationLogger(oplog.New(logger))}
	if cfg.AMQPURL != "" {
		publisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer func() { _ = publisher.Close() }()
		engineOptions = append(engineOptions, booking.WithEventPublisher(publisher))
	}

	app, err := newApplication(store, logger, cfg.LessonWindow, engineOptions...)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg.HTTP, httpapi.Services{
			Engine:     app.engine,
			Query:      app.query,
			Users:      app.users,
			Membership: app.membership,
		}, logger)
	})
	if cfg.GRPCListenAddr != "" {
		group.Go(func() error {
			return serveGRPC(groupCtx, cfg.GRPCListenAddr, grpcserver.NewBookingServer(app.engine, app.query, logger), logger)
		})
	}
	if cfg.CardExpirySchedule != "" {
		scheduler, err := jobs.NewScheduler(cfg.CardExpirySchedule, app.membership, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			scheduler.Run(groupCtx)
			return nil
		})
	}
	return group.Wait()
}

func newApplication(store booking.Store, logger *zap.Logger, lessonWindow time.Duration, engineOptions ...booking.EngineOption) (*application, error) {
	clock := func() int64 { return time.Now().UTC().Unix() }
	operationLogger := oplog.New(logger)

	engine, err := booking.NewEngine(store, clock, engineOptions...)
	if err != nil {
		return nil, fmt.Errorf("booking engine init: %w", err)
	}
	query, err := booking.NewQueryService(store, booking.WithLessonWindow(int64(lessonWindow/time.Second)))
	if err != nil {
		return nil, fmt.Errorf("query service init: %w", err)
	}
	users, err := booking.NewUserService(store, operationLogger)
	if err != nil {
		return nil, fmt.Errorf("user service init: %w", err)
	}
	membership, err := booking.NewMembershipService(store, clock, booking.WithMembershipLogger(operationLogger))
	if err != nil {
		return nil, fmt.Errorf("membership service init: %w", err)
	}
	return &application{engine: engine, query: query, users: users, membership: membership}, nil
}

func serveGRPC(ctx context.Context, listenAddr string, server *grpcserver.BookingServer, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	grpcserver.Register(grpcServer, server)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", listenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}
