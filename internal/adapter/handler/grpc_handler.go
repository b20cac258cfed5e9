package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	// CodecName is the content subtype clients must send, e.g. with
	// grpc.CallContentSubtype(handler.CodecName).
	CodecName = "json"

	inventoryServiceName = "inventory.v1.InventoryService"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

type ProductRequest struct {
	ProductID string `json:"productId"`
}

type StockRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type LowStockRequest struct {
	Threshold *int `json:"threshold,omitempty"`
}

type InventoryReply struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Reserved  int    `json:"reserved"`
}

// InventoryServer is the server side of inventory.v1.InventoryService.
type InventoryServer interface {
	GetInventory(ctx context.Context, req *ProductRequest) (*InventoryReply, error)
	AddStock(ctx context.Context, req *StockRequest) (*InventoryReply, error)
	ReserveStock(ctx context.Context, req *StockRequest) (*InventoryReply, error)
	ReleaseStock(ctx context.Context, req *StockRequest) (*InventoryReply, error)
	LowStock(req *LowStockRequest, stream grpc.ServerStream) error
}

type GRPCHandler struct {
	inventory *service.InventoryService
	logger    *zap.Logger
}

func NewGRPCHandler(inventory *service.InventoryService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{inventory: inventory, logger: logger}
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&inventoryServiceDesc, srv)
}

func (h *GRPCHandler) GetInventory(ctx context.Context, req *ProductRequest) (*InventoryReply, error) {
	if err := uuid.Validate(req.ProductID); err != nil {
		return nil, status.Error(codes.InvalidArgument, "product id must be a UUID")
	}
	inv, err := h.inventory.GetInventory(ctx, req.ProductID)
	if err != nil {
		return nil, h.mapError(err)
	}
	return toReply(*inv), nil
}

func (h *GRPCHandler) AddStock(ctx context.Context, req *StockRequest) (*InventoryReply, error) {
	return h.mutate(ctx, req, h.inventory.AddStock)
}

func (h *GRPCHandler) ReserveStock(ctx context.Context, req *StockRequest) (*InventoryReply, error) {
	return h.mutate(ctx, req, h.inventory.ReserveStock)
}

func (h *GRPCHandler) ReleaseStock(ctx context.Context, req *StockRequest) (*InventoryReply, error) {
	return h.mutate(ctx, req, h.inventory.ReleaseStock)
}

// LowStock streams one reply per product below the threshold.
func (h *GRPCHandler) LowStock(req *LowStockRequest, stream grpc.ServerStream) error {
	threshold := defaultLowStockThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	for inv, err := range h.inventory.LowStock(stream.Context(), threshold) {
		if err != nil {
			return h.mapError(err)
		}
		if err := stream.SendMsg(toReply(inv)); err != nil {
			return err
		}
	}
	return nil
}

func (h *GRPCHandler) mutate(ctx context.Context, req *StockRequest, op func(context.Context, string, int) (*domain.Inventory, error)) (*InventoryReply, error) {
	if err := uuid.Validate(req.ProductID); err != nil {
		return nil, status.Error(codes.InvalidArgument, "product id must be a UUID")
	}
	inv, err := op(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return nil, h.mapError(err)
	}
	return toReply(*inv), nil
}

func (h *GRPCHandler) mapError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientStock), errors.Is(err, service.ErrInvalidRelease):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrInvalidQuantity):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	h.logger.Error("inventory rpc failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func toReply(inv domain.Inventory) *InventoryReply {
	return &InventoryReply{ProductID: inv.ProductID, Quantity: inv.Quantity, Reserved: inv.Reserved}
}

func unaryHandler[Req any](call func(InventoryServer, context.Context, *Req) (*InventoryReply, error), method string) grpc.MethodHandler {
	fullMethod := "/" + inventoryServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InventoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(InventoryServer), ctx, req.(*Req))
		})
	}
}

func lowStockHandler(srv any, stream grpc.ServerStream) error {
	in := new(LowStockRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(InventoryServer).LowStock(in, stream)
}

var inventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: inventoryServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetInventory", Handler: unaryHandler(InventoryServer.GetInventory, "GetInventory")},
		{MethodName: "AddStock", Handler: unaryHandler(InventoryServer.AddStock, "AddStock")},
		{MethodName: "ReserveStock", Handler: unaryHandler(InventoryServer.ReserveStock, "ReserveStock")},
		{MethodName: "ReleaseStock", Handler: unaryHandler(InventoryServer.ReleaseStock, "ReleaseStock")},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "LowStock", Handler: lowStockHandler, ServerStreams: true},
	},
}
