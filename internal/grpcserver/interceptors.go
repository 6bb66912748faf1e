package grpcserver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"jobmate/escrow-service/internal/auth"
	"jobmate/escrow-service/internal/escrow"
)

// readOnly lists the EscrowService queries that may be called anonymously.
var readOnly = map[string]bool{
	"GetJob":        true,
	"GetApplicants": true,
	"ListJobs":      true,
	"GetFreelancer": true,
	"GetConfig":     true,
}

// CallerInterceptor resolves the caller of every EscrowService RPC from the
// authorization / x-user-id metadata and stores it in the context. Queries
// proceed without a caller; other services (health) pass through untouched.
func CallerInterceptor(v *auth.Verifier) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method, ok := strings.CutPrefix(info.FullMethod, prefix)
		if !ok {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		caller, err := v.Resolve(first(md, "authorization"), first(md, "x-user-id"))
		if err != nil {
			if readOnly[method] {
				return handler(ctx, req)
			}
			if errors.Is(err, auth.ErrUnauthenticated) {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
			return nil, status.Error(codes.Internal, "internal server error")
		}
		return handler(auth.WithCaller(ctx, caller), req)
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// RateLimiter throttles each caller identity with its own token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[escrow.Identity]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per caller with the given
// burst. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: make(map[escrow.Identity]*visitor),
	}
}

// Allow reports whether id may issue another request now.
func (rl *RateLimiter) Allow(id escrow.Identity) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	v, ok := rl.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[id] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()
	return v.limiter.Allow()
}

// Prune drops visitors idle for longer than idle.
func (rl *RateLimiter) Prune(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	for id, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, id)
		}
	}
}

// Interceptor rejects callers over their budget with ResourceExhausted. It
// must run after CallerInterceptor.
func (rl *RateLimiter) Interceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if c, ok := auth.CallerFrom(ctx); ok && !rl.Allow(c.ID) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
