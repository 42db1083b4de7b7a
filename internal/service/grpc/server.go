package grpcsvc

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/drops/internal/domain"
	"github.com/vladislavdragonenkov/drops/internal/service/cancellation"
	"github.com/vladislavdragonenkov/drops/internal/service/expiry"
	"github.com/vladislavdragonenkov/drops/internal/service/purchase"
	"github.com/vladislavdragonenkov/drops/internal/service/reservation"
)

type Reserver interface {
	Reserve(ctx context.Context, in reservation.ReserveInput) (reservation.ReserveResult, error)
}

type Purchaser interface {
	Purchase(ctx context.Context, in purchase.PurchaseInput) (purchase.PurchaseResult, error)
}

type Canceller interface {
	Cancel(ctx context.Context, in cancellation.CancelInput) (cancellation.CancelResult, error)
}

type Sweeper interface {
	SweepOnce(ctx context.Context, limit int) (expiry.Result, error)
	ExpireNow(ctx context.Context) (expiry.Result, error)
}

// DefaultMaxTTL: верхняя граница TTL, который клиент может запросить в Reserve.
const DefaultMaxTTL = 10 * time.Minute

// ServerOption настраивает Server.
type ServerOption func(*Server)

// WithMaxTTL ограничивает TTL из запроса. Значение <= 0 оставляет DefaultMaxTTL.
func WithMaxTTL(maxTTL time.Duration) ServerOption {
	return func(s *Server) {
		if maxTTL > 0 {
			s.maxTTL = maxTTL
		}
	}
}

// WithOnDemandSweep разрешает RPC SweepExpired. По умолчанию он выключен.
func WithOnDemandSweep(enabled bool) ServerOption {
	return func(s *Server) { s.onDemandSweep = enabled }
}

// Server реализует drops.v1.ReservationService поверх сервисов домена.
type Server struct {
	reserver  Reserver
	purchaser Purchaser
	canceller Canceller
	sweeper   Sweeper
	logger    *log.Entry

	maxTTL        time.Duration
	onDemandSweep bool
}

// NewServer конструирует gRPC-адаптер.
func NewServer(reserver Reserver, purchaser Purchaser, canceller Canceller, sweeper Sweeper, logger *log.Entry, options ...ServerOption) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc-reservation-service")
	}
	s := &Server{
		reserver:  reserver,
		purchaser: purchaser,
		canceller: canceller,
		sweeper:   sweeper,
		logger:    logger,
		maxTTL:    DefaultMaxTTL,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Reserve удерживает единицу дропа за вызывающим.
func (s *Server) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResponse, error) {
	userID, _, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil || strings.TrimSpace(req.DropID) == "" {
		return nil, toStatus(domain.NewError(domain.CodeInvalidArgument, "dropId is required"))
	}
	if req.TTLSeconds < 0 {
		return nil, toStatus(domain.NewError(domain.CodeInvalidArgument, "ttlSeconds must be >= 0"))
	}
	// Сравнение в секундах до умножения: большое значение иначе переполнит time.Duration.
	if int64(req.TTLSeconds) > int64(s.maxTTL/time.Second) {
		return nil, toStatus(domain.NewError(domain.CodeInvalidArgument, "ttlSeconds exceeds the allowed maximum"))
	}

	res, err := s.reserver.Reserve(ctx, reservation.ReserveInput{
		DropID: req.DropID,
		UserID: userID,
		TTL:    time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReserveResponse{Reservation: toReservation(res.Reservation), AvailableStock: res.AvailableStock}, nil
}

// Purchase оформляет покупку по резерву вызывающего.
func (s *Server) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	userID, username, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil || strings.TrimSpace(req.DropID) == "" {
		return nil, toStatus(domain.NewError(domain.CodeInvalidArgument, "dropId is required"))
	}

	res, err := s.purchaser.Purchase(ctx, purchase.PurchaseInput{DropID: req.DropID, UserID: userID, Username: username})
	if err != nil {
		return nil, toStatus(err)
	}
	return &PurchaseResponse{Purchase: toPurchase(res.Purchase), Reservation: toReservation(res.Reservation)}, nil
}

// Cancel отменяет резерв вызывающего.
func (s *Server) Cancel(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	userID, _, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil || strings.TrimSpace(req.ReservationID) == "" {
		return nil, toStatus(domain.NewError(domain.CodeInvalidArgument, "reservationId is required"))
	}

	res, err := s.canceller.Cancel(ctx, cancellation.CancelInput{ReservationID: req.ReservationID, UserID: userID})
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelResponse{Reservation: toReservation(res.Reservation), AvailableStock: res.AvailableStock}, nil
}

// SweepExpired запускает внеочередной проход свипера.
// Limit больше expiry.OnDemandBatchSize урезается до него.
func (s *Server) SweepExpired(ctx context.Context, req *SweepExpiredRequest) (*SweepExpiredResponse, error) {
	if !s.onDemandSweep || s.sweeper == nil {
		return nil, status.Error(codes.Unimplemented, "on-demand sweep is disabled")
	}

	var (
		res expiry.Result
		err error
	)
	if req == nil || req.Limit <= 0 || req.Limit >= expiry.OnDemandBatchSize {
		res, err = s.sweeper.ExpireNow(ctx)
	} else {
		res, err = s.sweeper.SweepOnce(ctx, req.Limit)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.WithField("expired", res.ExpiredCount).Info("on-demand sweep finished")
	return toSweepResponse(res), nil
}

// callerFromContext читает личность вызывающего из metadata.
func callerFromContext(ctx context.Context) (userID, username string, err error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if values := md.Get(MetadataUserID); len(values) > 0 {
			userID = strings.TrimSpace(values[0])
		}
		if values := md.Get(MetadataUsername); len(values) > 0 {
			username = strings.TrimSpace(values[0])
		}
	}
	if userID == "" {
		return "", "", toStatus(domain.NewError(domain.CodeInvalidArgument, MetadataUserID+" metadata is required"))
	}
	return userID, username, nil
}

var _ ReservationServiceServer = (*Server)(nil)
