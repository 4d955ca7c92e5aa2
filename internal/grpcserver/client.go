package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls the booking service using the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (client *Client) Book(ctx context.Context, request *BookRequest, options ...grpc.CallOption) (*BookResponse, error) {
	response := new(BookResponse)
	if err := client.conn.Invoke(ctx, fullMethodBook, request, response, client.callOptions(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Cancel(ctx context.Context, request *CancelRequest, options ...grpc.CallOption) (*CancelResponse, error) {
	response := new(CancelResponse)
	if err := client.conn.Invoke(ctx, fullMethodCancel, request, response, client.callOptions(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) ListLessons(ctx context.Context, request *ListLessonsRequest, options ...grpc.CallOption) (*ListLessonsResponse, error) {
	response := new(ListLessonsResponse)
	if err := client.conn.Invoke(ctx, fullMethodListLessons, request, response, client.callOptions(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) callOptions(options []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, options...)
}
