package api

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"meetbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type togglePinger struct {
	down atomic.Bool
}

func (p *togglePinger) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("store unreachable")
	}
	return nil
}

func TestGRPCHealthFollowsStore(t *testing.T) {
	logger := zerolog.New(io.Discard)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.APIConfig{Auth: config.APIAuthConfig{Enabled: true}}
	srv, err := newGRPCServer(cfg, lis, &logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	pinger := &togglePinger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.WatchHealth(ctx, pinger, 20*time.Millisecond)

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	// health is exempt from auth, no metadata needed
	require.Eventually(t, func() bool {
		return check() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	pinger.down.Store(true)
	require.Eventually(t, func() bool {
		return check() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBuildTLSConfig_MissingFiles(t *testing.T) {
	_, err := buildTLSConfig(config.APITLSConfig{Enabled: true})
	assert.Error(t, err)

	_, err = buildTLSConfig(config.APITLSConfig{Enabled: true, CertFile: "missing.pem", KeyFile: "missing.key"})
	assert.Error(t, err)
}

func TestAuthInterceptor(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "k1", Extra: "e1", Name: "crm"}},
		},
	}
	interceptor := NewAuthInterceptor(cfg).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: "/meetbook.v1.Bookings/List"}
	handler := func(context.Context, any) (any, error) { return "ok", nil }

	tests := []struct {
		name string
		md   metadata.MD
		code codes.Code
	}{
		{"NoMetadata", nil, codes.Unauthenticated},
		{"InvalidKey", metadata.Pairs("x-api-key", "nope", "x-api-extra", "e1"), codes.Unauthenticated},
		{"InvalidExtra", metadata.Pairs("x-api-key", "k1", "x-api-extra", "wrong"), codes.Unauthenticated},
		{"Valid", metadata.Pairs("x-api-key", "k1", "x-api-extra", "e1"), codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			resp, err := interceptor(ctx, nil, info, handler)
			assert.Equal(t, tt.code, status.Code(err))
			if tt.code == codes.OK {
				assert.Equal(t, "ok", resp)
			}
		})
	}

	t.Run("HealthExempt", func(t *testing.T) {
		healthInfo := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
		_, err := interceptor(context.Background(), nil, healthInfo, handler)
		assert.NoError(t, err)
	})
}

func TestAuthInterceptor_RateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}}
	interceptor := NewAuthInterceptor(cfg).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: "/meetbook.v1.Bookings/List"}
	handler := func(context.Context, any) (any, error) { return nil, nil }
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "k1"))

	_, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	_, err = interceptor(ctx, nil, info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	other := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "k2"))
	_, err = interceptor(other, nil, info, handler)
	assert.NoError(t, err)
}

func TestBuildTLSConfig_ClientCA(t *testing.T) {
	_, err := loadCertPool("")
	assert.Error(t, err)

	bogus := t.TempDir() + "/ca.pem"
	require.NoError(t, os.WriteFile(bogus, []byte("not a certificate"), 0o600))
	_, err = loadCertPool(bogus)
	assert.ErrorContains(t, err, "no PEM certificates")
}
