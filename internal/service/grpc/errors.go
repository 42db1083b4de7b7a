package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// ErrorDomain: значение ErrorInfo.Domain для ошибок сервиса.
const ErrorDomain = "drops.v1"

var grpcCodes = map[domain.Code]codes.Code{
	domain.CodeInvalidArgument:      codes.InvalidArgument,
	domain.CodeDropNotFound:         codes.NotFound,
	domain.CodeReservationNotFound:  codes.NotFound,
	domain.CodeDropNotActive:        codes.FailedPrecondition,
	domain.CodeReservationRequired:  codes.FailedPrecondition,
	domain.CodeReservationNotActive: codes.FailedPrecondition,
	domain.CodeReservationExpired:   codes.FailedPrecondition,
	domain.CodeOutOfStock:           codes.ResourceExhausted,
	domain.CodeAlreadyReserved:      codes.AlreadyExists,
	domain.CodeAlreadyPurchased:     codes.AlreadyExists,
	domain.CodeReservationConflict:  codes.Aborted,
	domain.CodeConflict:             codes.Aborted,
}

// toStatus переводит ошибку сервиса в gRPC-статус.
// Машиночитаемый код домена кладётся в ErrorInfo.Reason.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	code := domain.CodeOf(err)
	grpcCode, ok := grpcCodes[code]
	message := err.Error()
	if !ok {
		grpcCode, code, message = codes.Internal, domain.CodeInternal, "internal error"
	}
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
	}

	st := status.New(grpcCode, message)
	detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{Reason: string(code), Domain: ErrorDomain})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}

// CodeFromError достаёт код домена из ошибки клиента.
// Для статусов без ErrorInfo возвращает CodeInternal, для nil: пустую строку.
func CodeFromError(err error) domain.Code {
	if err == nil {
		return ""
	}
	st, ok := status.FromError(err)
	if !ok {
		return domain.CodeOf(err)
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return domain.Code(info.GetReason())
		}
	}
	if st.Code() == codes.InvalidArgument {
		return domain.CodeInvalidArgument
	}
	return domain.CodeInternal
}
