package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =x,tenant=hedge,auth=Bearer%20tok")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "hedge", "auth": "Bearer tok"}, headers)
}

func TestInitDisabledExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestExporterTarget(t *testing.T) {
	cases := []struct {
		in           string
		insecure     bool
		wantEndpoint string
		wantInsecure bool
	}{
		{"", false, "localhost:4318", false},
		{"collector:4318", true, "collector:4318", true},
		{"http://collector:4318", false, "collector:4318", true},
		{"https://otel.example.com:443/", false, "otel.example.com:443", false},
	}
	for _, tc := range cases {
		endpoint, insecure := exporterTarget(tc.in, tc.insecure)
		require.Equal(t, tc.wantEndpoint, endpoint, tc.in)
		require.Equal(t, tc.wantInsecure, insecure, tc.in)
	}
}

func TestResourceDescribesDaemon(t *testing.T) {
	res, err := Resource(context.Background(), Config{ServiceName: "lendingd", Environment: "staging", Version: "v1.2.3"})
	require.NoError(t, err)
	values := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		values[kv.Key] = kv.Value.Emit()
	}
	require.Equal(t, "lendingd", values["service.name"])
	require.Equal(t, "v1.2.3", values["service.version"])
	require.Equal(t, "staging", values["deployment.environment"])
	require.NotEmpty(t, values["telemetry.sdk.name"])

	require.Equal(t, "v9", serviceVersion(" v9 "))
	require.NotEmpty(t, serviceVersion(""))
}

func TestInitInstallsTracerProvider(t *testing.T) {
	t.Setenv(headersEnv, "tenant=hedge")

	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd", Traces: true, Endpoint: "http://127.0.0.1:4318"})
	require.NoError(t, err)
	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok, "expected the sdk tracer provider to be installed")
	require.NoError(t, shutdown(context.Background()))
}
