package tokenmanager

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/AmmannChristian/go-authsession/headers"
)

// UnaryClientInterceptor returns a gRPC unary client interceptor that adds the
// credential metadata and handles codes.Unauthenticated the way Transport handles 401.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(tm.UnaryClientInterceptor()),
//	)
func (m *Manager) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if IsRefreshExempt(ctx) || !m.intercepting() {
			outCtx, _ := m.outgoingContext(ctx)
			return invoker(outCtx, method, req, reply, cc, opts...)
		}

		send := func() (outcome, string) {
			outCtx, sentAuth := m.outgoingContext(ctx)
			err := invoker(outCtx, method, req, reply, cc, opts...)
			return outcome{
				err:          err,
				unauthorized: status.Code(err) == codes.Unauthenticated,
			}, sentAuth
		}

		out, sentAuth := send()
		if !out.unauthorized {
			return out.err
		}
		return m.handleUnauthorized(ctx, sentAuth, out, send).err
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that adds the
// credential metadata. Streams are not buffered or replayed.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithStreamInterceptor(tm.StreamClientInterceptor()),
//	)
func (m *Manager) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		outCtx, _ := m.outgoingContext(ctx)
		return streamer(outCtx, desc, cc, method, opts...)
	}
}

// outgoingContext appends the credential metadata to ctx and returns the
// authorization value sent.
func (m *Manager) outgoingContext(ctx context.Context) (context.Context, string) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	var pairs []string
	if active {
		pairs = m.headers.Pairs()
	} else {
		pairs = m.headers.Pairs(headers.Authorization)
	}
	if len(pairs) == 0 {
		return ctx, ""
	}

	sentAuth := ""
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i] == "authorization" {
			sentAuth = pairs[i+1]
		}
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...), sentAuth
}
