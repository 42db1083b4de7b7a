package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName: полное имя gRPC-сервиса.
const ServiceName = "drops.v1.ReservationService"

const (
	MethodReserve      = "/" + ServiceName + "/Reserve"
	MethodPurchase     = "/" + ServiceName + "/Purchase"
	MethodCancel       = "/" + ServiceName + "/Cancel"
	MethodSweepExpired = "/" + ServiceName + "/SweepExpired"
)

// ReservationServiceServer: серверная сторона drops.v1.ReservationService.
type ReservationServiceServer interface {
	Reserve(context.Context, *ReserveRequest) (*ReserveResponse, error)
	Purchase(context.Context, *PurchaseRequest) (*PurchaseResponse, error)
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	SweepExpired(context.Context, *SweepExpiredRequest) (*SweepExpiredResponse, error)
}

// RegisterReservationServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterReservationServiceServer(registrar grpc.ServiceRegistrar, srv ReservationServiceServer) {
	registrar.RegisterService(&ReservationServiceDesc, srv)
}

// ReservationServiceDesc описывает методы сервиса. Сообщения передаются JSON-кодеком.
var ReservationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReservationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reserve", Handler: reserveHandler},
		{MethodName: "Purchase", Handler: purchaseHandler},
		{MethodName: "Cancel", Handler: cancelHandler},
		{MethodName: "SweepExpired", Handler: sweepExpiredHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drops/v1/reservation.json",
}

// unary собирает обработчик метода так же, как это делает protoc-gen-go-grpc.
func unary[Req any, Resp any](
	method string,
	call func(ReservationServiceServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(ReservationServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	reserveHandler = unary(MethodReserve, func(s ReservationServiceServer, ctx context.Context, in *ReserveRequest) (*ReserveResponse, error) {
		return s.Reserve(ctx, in)
	})
	purchaseHandler = unary(MethodPurchase, func(s ReservationServiceServer, ctx context.Context, in *PurchaseRequest) (*PurchaseResponse, error) {
		return s.Purchase(ctx, in)
	})
	cancelHandler = unary(MethodCancel, func(s ReservationServiceServer, ctx context.Context, in *CancelRequest) (*CancelResponse, error) {
		return s.Cancel(ctx, in)
	})
	sweepExpiredHandler = unary(MethodSweepExpired, func(s ReservationServiceServer, ctx context.Context, in *SweepExpiredRequest) (*SweepExpiredResponse, error) {
		return s.SweepExpired(ctx, in)
	})
)
