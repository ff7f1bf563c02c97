package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"roiwatch/internal/errdefs"
	"roiwatch/internal/services"
)

var _ ControlServer = (*Server)(nil)

// Server implements ControlServer on top of the controller.
type Server struct {
	ctrl   *services.Controller
	logger *zap.SugaredLogger
}

// NewServer creates the Control service implementation.
func NewServer(ctrl *services.Controller, logger *zap.SugaredLogger) *Server {
	return &Server{ctrl: ctrl, logger: logger.Named("grpc")}
}

// GetStats returns the latest FrameStats snapshot.
func (s *Server) GetStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.ctrl.GetStats())
}

// ListROIs returns {"rois": [...]}.
func (s *Server) ListROIs(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{"success": true, "rois": s.ctrl.ListROIs()})
}

// AddROI expects {"x1","y1","x2","y2"} and returns the added ROI.
func (s *Server) AddROI(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	var coords [4]int
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		v, ok := fields[name]
		if !ok {
			return nil, toStatus(errdefs.Invalid(name, "is required"))
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, toStatus(errdefs.Invalid(name, "must be a number"))
		}
		coords[i] = int(n.NumberValue)
	}

	view, err := s.ctrl.AddROI(coords[0], coords[1], coords[2], coords[3])
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"success": true,
		"message": fmt.Sprintf("ROI %d added", view.ID),
		"roi":     view,
	})
}

// DeleteROI removes the ROI with the given id.
func (s *Server) DeleteROI(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	id := int(in.GetValue())
	if err := s.ctrl.DeleteROI(id); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(services.ResultOf(nil, fmt.Sprintf("ROI %d deleted", id)))
}

// ClearROIs removes every ROI.
func (s *Server) ClearROIs(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	n := s.ctrl.ClearROIs()
	return toStruct(map[string]any{"success": true, "message": "ROIs cleared", "count": n})
}

// SaveROIs writes the ROI file.
func (s *Server) SaveROIs(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	n, err := s.ctrl.SaveROIs()
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"success": true, "message": "ROIs saved", "count": n})
}

// LoadROIs replaces the ROIs with the ROI file contents.
func (s *Server) LoadROIs(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	n, err := s.ctrl.LoadROIs()
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"success": true, "message": "ROIs loaded", "count": n})
}

// GetConfig returns the detection config.
func (s *Server) GetConfig(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.ctrl.GetConfig())
}

// UpdateConfig applies a partial config record and returns the new config.
func (s *Server) UpdateConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	cfg, err := s.ctrl.UpdateConfig(in.AsMap())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(cfg)
}

// toStruct converts v through its JSON form, so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps an operation error to a gRPC status.
func toStatus(err error) error {
	switch {
	case errdefs.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errdefs.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errdefs.ErrCameraUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// LoggingInterceptor logs every call with its duration and status code.
func LoggingInterceptor(logger *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if code == codes.Internal || code == codes.Unknown {
			logger.Warnw("call failed", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start), "error", err)
		} else {
			logger.Debugw("call", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start))
		}
		return resp, err
	}
}

// DefaultMethodTimeout bounds inbound calls that carry no deadline.
var DefaultMethodTimeout = 30 * time.Second

// EnsureTimeoutInterceptor sets DefaultMethodTimeout on calls without a
// deadline.
func EnsureTimeoutInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultMethodTimeout)
		defer cancel()
	}
	return handler(ctx, req)
}
