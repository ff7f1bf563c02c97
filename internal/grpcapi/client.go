package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the Control service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in any) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// GetStats fetches the latest snapshot.
func (c *Client) GetStats(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "GetStats", &emptypb.Empty{})
}

// ListROIs fetches the ROI list.
func (c *Client) ListROIs(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "ListROIs", &emptypb.Empty{})
}

// AddROI adds the rectangle with the given corners.
func (c *Client) AddROI(ctx context.Context, x1, y1, x2, y2 int) (map[string]any, error) {
	in, err := structpb.NewStruct(map[string]any{"x1": x1, "y1": y1, "x2": x2, "y2": y2})
	if err != nil {
		return nil, err
	}
	return c.call(ctx, "AddROI", in)
}

// DeleteROI removes the ROI with the given id.
func (c *Client) DeleteROI(ctx context.Context, id int) (map[string]any, error) {
	return c.call(ctx, "DeleteROI", wrapperspb.Int64(int64(id)))
}

// ClearROIs removes every ROI.
func (c *Client) ClearROIs(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "ClearROIs", &emptypb.Empty{})
}

// SaveROIs writes the ROI file on the server.
func (c *Client) SaveROIs(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "SaveROIs", &emptypb.Empty{})
}

// LoadROIs reloads the ROI file on the server.
func (c *Client) LoadROIs(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "LoadROIs", &emptypb.Empty{})
}

// GetConfig fetches the detection config.
func (c *Client) GetConfig(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "GetConfig", &emptypb.Empty{})
}

// UpdateConfig applies a partial config record.
func (c *Client) UpdateConfig(ctx context.Context, record map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(record)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, "UpdateConfig", in)
}
