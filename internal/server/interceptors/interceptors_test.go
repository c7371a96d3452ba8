package interceptors

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"embedded-sessions/internal/platform/logger"
)

const checkMethod = "/grpc.health.v1.Health/Check"

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.InitWithWriter("debug", &buf)
	return &buf
}

func TestLoggingUnary_QuietMethods(t *testing.T) {
	buf := captureLogs(t)
	icpt := LoggingUnary(map[string]bool{checkMethod: true})
	info := &grpc.UnaryServerInfo{FullMethod: checkMethod}

	ok := func(context.Context, interface{}) (interface{}, error) { return "ok", nil }
	if _, err := icpt(context.Background(), nil, info, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("successful quiet call logged: %s", buf.String())
	}

	fail := func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	}
	if _, err := icpt(context.Background(), nil, info, fail); status.Code(err) != codes.NotFound {
		t.Fatalf("err = %v, want NotFound passed through", err)
	}
	if !strings.Contains(buf.String(), "NotFound") {
		t.Errorf("failed quiet call not logged: %s", buf.String())
	}
}

func TestRecoveryUnary(t *testing.T) {
	captureLogs(t)
	icpt := RecoveryUnary()
	info := &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"}
	panicky := func(context.Context, interface{}) (interface{}, error) { panic("boom") }

	_, err := icpt(context.Background(), nil, info, panicky)
	if status.Code(err) != codes.Internal {
		t.Fatalf("err = %v, want Internal", err)
	}

	plain := errors.New("plain")
	_, err = icpt(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) { return nil, plain })
	if !errors.Is(err, plain) {
		t.Errorf("err = %v, want passthrough", err)
	}
}

func TestClientIP(t *testing.T) {
	peerCtx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.1.1.1"), Port: 443}})
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"forwarded", metadata.NewIncomingContext(peerCtx, metadata.Pairs("x-forwarded-for", "1.2.3.4, 10.0.0.1")), "1.2.3.4"},
		{"real ip", metadata.NewIncomingContext(peerCtx, metadata.Pairs("x-real-ip", "5.6.7.8")), "5.6.7.8"},
		{"peer", peerCtx, "10.1.1.1"},
		{"unknown", context.Background(), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientIP(tt.ctx); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
