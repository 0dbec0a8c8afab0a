package mgmtapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "brokeradmin.v1.Management"

const (
	methodGetAttribute    = "/" + ServiceName + "/GetAttribute"
	methodInvokeOperation = "/" + ServiceName + "/InvokeOperation"
	methodQuery           = "/" + ServiceName + "/Query"
)

// ManagementServer is the server side of the Management service. Requests
// and responses are google.protobuf.Struct messages:
//
//	GetAttribute    {resource, attribute}              -> {value}
//	InvokeOperation {resource, operation, params}      -> {value}
//	Query           {entity, options, page, page_size} -> {count, data}
type ManagementServer interface {
	GetAttribute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InvokeOperation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(ManagementServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ManagementServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ManagementServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the Management service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ManagementServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetAttribute",
			Handler:    unaryHandler(methodGetAttribute, ManagementServer.GetAttribute),
		},
		{
			MethodName: "InvokeOperation",
			Handler:    unaryHandler(methodInvokeOperation, ManagementServer.InvokeOperation),
		},
		{
			MethodName: "Query",
			Handler:    unaryHandler(methodQuery, ManagementServer.Query),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "brokeradmin/v1/management.proto",
}

func RegisterManagementServer(r grpc.ServiceRegistrar, srv ManagementServer) {
	r.RegisterService(&ServiceDesc, srv)
}

// Client calls the Management service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetAttribute(ctx context.Context, resourceName, attr string, opts ...grpc.CallOption) (any, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"resource":  structpb.NewStringValue(resourceName),
		"attribute": structpb.NewStringValue(attr),
	}}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetAttribute, req, out, opts...); err != nil {
		return nil, err
	}
	return out.GetFields()["value"].AsInterface(), nil
}

func (c *Client) InvokeOperation(ctx context.Context, resourceName, operation string, params []any, opts ...grpc.CallOption) (any, error) {
	list, err := structpb.NewList(params)
	if err != nil {
		return nil, err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"resource":  structpb.NewStringValue(resourceName),
		"operation": structpb.NewStringValue(operation),
		"params":    structpb.NewListValue(list),
	}}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodInvokeOperation, req, out, opts...); err != nil {
		return nil, err
	}
	return out.GetFields()["value"].AsInterface(), nil
}

// Query returns the query result as a Struct with count and data fields.
func (c *Client) Query(ctx context.Context, entity, options string, page, pageSize int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"entity":    structpb.NewStringValue(entity),
		"options":   structpb.NewStringValue(options),
		"page":      structpb.NewNumberValue(float64(page)),
		"page_size": structpb.NewNumberValue(float64(pageSize)),
	}}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodQuery, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
