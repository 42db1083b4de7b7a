package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client вызывает drops.v1.ReservationService через JSON-кодек.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// WithCaller добавляет в исходящий контекст личность вызывающего.
func WithCaller(ctx context.Context, userID, username string) context.Context {
	pairs := []string{MetadataUserID, userID}
	if username != "" {
		pairs = append(pairs, MetadataUsername, username)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func (c *Client) Reserve(ctx context.Context, req *ReserveRequest, opts ...grpc.CallOption) (*ReserveResponse, error) {
	out := new(ReserveResponse)
	if err := c.invoke(ctx, MethodReserve, req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Purchase(ctx context.Context, req *PurchaseRequest, opts ...grpc.CallOption) (*PurchaseResponse, error) {
	out := new(PurchaseResponse)
	if err := c.invoke(ctx, MethodPurchase, req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Cancel(ctx context.Context, req *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error) {
	out := new(CancelResponse)
	if err := c.invoke(ctx, MethodCancel, req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SweepExpired(ctx context.Context, req *SweepExpiredRequest, opts ...grpc.CallOption) (*SweepExpiredResponse, error) {
	out := new(SweepExpiredResponse)
	if err := c.invoke(ctx, MethodSweepExpired, req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.conn.Invoke(ctx, method, req, out, opts...)
}
