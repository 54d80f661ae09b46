package otel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lessucettes/adresu-authz/internal/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("ADRESU_AUTHZ_OTEL_ENDPOINT", "")
	t.Setenv("ADRESU_AUTHZ_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service", "dev")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("ADRESU_AUTHZ_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("ADRESU_AUTHZ_OTEL_ENABLED", "FALSE")

	shutdown, err := otel.Setup(context.Background(), "test-service", "dev")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx), "noop shutdown ignores a cancelled context")
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address, nothing is exported before shutdown.
	t.Setenv("ADRESU_AUTHZ_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("ADRESU_AUTHZ_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service", "dev")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
