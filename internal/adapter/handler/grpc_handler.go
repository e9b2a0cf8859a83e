package handler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/core/service"
)

const metadataAPIKey = "x-api-key"

type principalKey struct{}

type GRPCHandler struct {
	orderService *service.OrderService
	logger       *slog.Logger
}

func NewGRPCHandler(orderService *service.OrderService, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{orderService: orderService, logger: logger}
}

// Purchase places an API-origin order for the account behind the call's API
// key. Business failures are reported in the response, not as gRPC errors.
func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	p, ok := ctx.Value(principalKey{}).(principal)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing api key")
	}
	lang := firstMetadata(ctx, "accept-language")

	result, err := h.orderService.Purchase(ctx, domain.PurchaseRequest{
		AccountID:   p.AccountID,
		Role:        p.Role,
		ProductID:   strings.TrimSpace(req.ProductID),
		Quantity:    int(req.Quantity),
		IsAPIOrigin: true,
		RequestID:   req.RequestID,
	})
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindInfrastructure {
			h.logger.Error("grpc purchase failed", "account_id", p.AccountID, "error", err)
		}
		return &PurchaseResponse{
			Success: false,
			Message: localize(lang, kindKey(kind)),
			Kind:    string(kind),
		}, nil
	}

	return &PurchaseResponse{
		Success: true,
		Message: localize(lang, msgOrderPlaced),
		Result:  result,
	}, nil
}

// UnaryAPIKey authenticates calls with the x-api-key metadata and audits them.
func (a *Authenticator) UnaryAPIKey() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		key := strings.TrimSpace(firstMetadata(ctx, metadataAPIKey))
		if key == "" {
			return nil, status.Error(codes.Unauthenticated, "missing api key")
		}

		account, err := a.accounts.FindAccountByAPIKeyHash(ctx, HashAPIKey(key))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		if err != nil {
			a.logger.Error("api key lookup failed", "error", err)
			return nil, status.Error(codes.Internal, "internal error")
		}
		if !account.IsActive {
			return nil, status.Error(codes.PermissionDenied, "account disabled")
		}

		ctx = context.WithValue(ctx, principalKey{}, principal{
			AccountID: account.ID,
			Role:      account.Role,
			APIOrigin: true,
		})

		start := a.now()
		resp, err := handler(ctx, req)
		if a.notifier != nil {
			a.notifier.Enqueue(domain.Event{
				Subject: domain.SubjectAPIAudit,
				Payload: domain.APIAudit{
					AccountID: account.ID,
					Method:    "GRPC",
					Path:      info.FullMethod,
					Status:    int(status.Code(err)),
					Latency:   a.now().Sub(start),
					At:        start.UTC(),
				},
			})
		}
		return resp, err
	}
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
