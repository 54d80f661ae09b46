package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/lessucettes/adresu-authz/internal/authz/nauthz"
	"github.com/lessucettes/adresu-authz/testutils"
)

func startServer(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()

	srv, err := NewWithAddr("127.0.0.1:0", svc)
	require.NoError(t, err)

	runCtx, runCancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(runCtx)
	}()

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, conn.Close())
		runCancel()
		select {
		case serveErr := <-serveDone:
			require.NoError(t, serveErr)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for server shutdown")
		}
	})
	return conn
}

func TestServer_EventAdmitRoundTrip(t *testing.T) {
	conn := startServer(t, newTestService([]uint64{1}, []string{testutils.TestPubKeyNpub}))
	client := nauthz.NewAuthorizationClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.EventAdmit(ctx, toRequest(testutils.MakeTextNote(testutils.TestPubKey(), "gm")))
	require.NoError(t, err)
	require.Equal(t, nauthz.DecisionPermit, reply.GetDecision())

	reply, err = client.EventAdmit(ctx, toRequest(testutils.MakeEvent(4, "dm", testutils.TestPubKey())))
	require.NoError(t, err)
	require.Equal(t, nauthz.DecisionDeny, reply.GetDecision())
	require.Equal(t, "Kind 4 not permitted", reply.GetMessage())

	_, err = client.EventAdmit(ctx, &nauthz.EventRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_Health(t *testing.T) {
	conn := startServer(t, newTestService(nil, nil))
	health := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, service := range []string{"", nauthz.ServiceName} {
		resp, err := health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
	}
}

func TestNewWithAddr_Errors(t *testing.T) {
	_, err := NewWithAddr("127.0.0.1:0", nil)
	require.Error(t, err)

	_, err = NewWithAddr("not-an-address", newTestService(nil, nil))
	require.Error(t, err)
}

func TestServer_NilSafe(t *testing.T) {
	var s *Server
	require.Empty(t, s.Addr())
	require.Error(t, s.Serve(context.Background()))
	s.Close()
}
