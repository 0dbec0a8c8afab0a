// Package mgmtapi exposes the management gateway over gRPC.
package mgmtapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/management"
	"github.com/nuetzliches/brokeradmin/internal/security"
	"github.com/nuetzliches/brokeradmin/internal/view"
)

// Management is the part of the management gateway the RPC service serves.
type Management interface {
	GetAttribute(ctx context.Context, resourceName, attr string, subject security.Subject) (any, error)
	InvokeOperation(ctx context.Context, resourceName, operation string, params []any, subject security.Subject) (any, error)
	Query(ctx context.Context, entity, options string, page, pageSize int, subject security.Subject) ([]byte, error)
}

type Server struct {
	Management   Management
	Authenticate Authenticator
	Logger       *slog.Logger
}

func NewServer(m Management) *Server {
	return &Server{Management: m}
}

var _ ManagementServer = (*Server)(nil)

func (s *Server) GetAttribute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resourceName, err := requiredString(req, "resource")
	if err != nil {
		return nil, err
	}
	attr, err := requiredString(req, "attribute")
	if err != nil {
		return nil, err
	}
	subject, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if s.Management == nil {
		return nil, status.Error(codes.Internal, "management is not configured")
	}

	v, err := s.Management.GetAttribute(ctx, resourceName, attr, subject)
	if err != nil {
		return nil, mapError(err)
	}
	return s.valueResponse(v)
}

func (s *Server) InvokeOperation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resourceName, err := requiredString(req, "resource")
	if err != nil {
		return nil, err
	}
	operation, err := requiredString(req, "operation")
	if err != nil {
		return nil, err
	}
	var params []any
	if v, ok := req.GetFields()["params"]; ok {
		switch k := v.GetKind().(type) {
		case *structpb.Value_ListValue:
			params = k.ListValue.AsSlice()
		case *structpb.Value_NullValue:
		default:
			return nil, status.Error(codes.InvalidArgument, "params must be a list")
		}
	}
	subject, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if s.Management == nil {
		return nil, status.Error(codes.Internal, "management is not configured")
	}

	v, err := s.Management.InvokeOperation(ctx, resourceName, operation, params, subject)
	if err != nil {
		return nil, mapError(err)
	}
	return s.valueResponse(v)
}

func (s *Server) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entity, err := requiredString(req, "entity")
	if err != nil {
		return nil, err
	}
	options := req.GetFields()["options"].GetStringValue()
	page, err := pageField(req, "page")
	if err != nil {
		return nil, err
	}
	pageSize, err := pageField(req, "page_size")
	if err != nil {
		return nil, err
	}
	subject, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if s.Management == nil {
		return nil, status.Error(codes.Internal, "management is not configured")
	}

	raw, err := s.Management.Query(ctx, entity, options, page, pageSize, subject)
	if err != nil {
		return nil, mapError(err)
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(raw); err != nil {
		s.logger().Warn("query_result_not_convertible", slog.String("entity", entity), slog.Any("err", err))
		return nil, status.Error(codes.Internal, "query result is not convertible")
	}
	return out, nil
}

func (s *Server) authenticate(ctx context.Context) (security.Subject, error) {
	if s.Authenticate == nil {
		return security.Subject{}, nil
	}
	subject, ok := s.Authenticate(ctx)
	if !ok {
		return security.Subject{}, status.Error(codes.Unauthenticated, "request is not authorized")
	}
	return subject, nil
}

// valueResponse wraps v as {"value": v}. Values go through JSON so slices and
// maps of concrete types convert the way the HTTP API renders them.
func (s *Server) valueResponse(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger().Warn("result_not_convertible", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "result is not convertible")
	}
	val := new(structpb.Value)
	if err := val.UnmarshalJSON(raw); err != nil {
		s.logger().Warn("result_not_convertible", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "result is not convertible")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"value": val}}, nil
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func requiredString(req *structpb.Struct, field string) (string, error) {
	if req == nil {
		return "", status.Error(codes.InvalidArgument, "request is required")
	}
	v := strings.TrimSpace(req.GetFields()[field].GetStringValue())
	if v == "" {
		return "", status.Error(codes.InvalidArgument, field+" is required")
	}
	return v, nil
}

// pageField reads an optional page number. Missing values mean unbounded.
func pageField(req *structpb.Struct, field string) (int, error) {
	v, ok := req.GetFields()[field]
	if !ok {
		return -1, nil
	}
	n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue < -1 || n.NumberValue > math.MaxInt32 {
		return 0, status.Error(codes.InvalidArgument, field+" must be an integer >= -1")
	}
	return int(n.NumberValue), nil
}

func mapError(err error) error {
	var paramErr *control.ParamError
	switch {
	case errors.Is(err, management.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, management.ErrResourceNotFound), errors.Is(err, view.ErrUnsupportedKind):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, management.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &paramErr), errors.Is(err, control.ErrUnknownOperation):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
