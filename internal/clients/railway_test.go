package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestRailway(serverURL string) *RailwayClient {
	c := NewRailwayClient("rw-token", "svc-1", "env-1", NewBreaker(testLogger()))
	c.endpoint = serverURL
	return c
}

func TestLatestDeploymentID(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer rw-token", r.Header.Get("Authorization"))
		captured, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"data":{"deployments":{"edges":[{"node":{"id":"dep-42","status":"SUCCESS"}}]}}}`))
	}))
	defer server.Close()

	c := newTestRailway(server.URL)
	id, err := c.LatestDeploymentID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "dep-42", id)

	payload := gjson.ParseBytes(captured)
	require.Contains(t, payload.Get("query").String(), "deployments(first: $first, input: $input)")
	require.Equal(t, int64(1), payload.Get("variables.first").Int())
	require.Equal(t, "svc-1", payload.Get("variables.input.serviceId").String())
	require.Equal(t, "env-1", payload.Get("variables.input.environmentId").String())
}

func TestLatestDeploymentIDNoDeployments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"deployments":{"edges":[]}}}`))
	}))
	defer server.Close()

	c := newTestRailway(server.URL)
	_, err := c.LatestDeploymentID(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no deployments")
}

func TestRestartDeploymentSurfacesGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Not Authorized"}]}`))
	}))
	defer server.Close()

	c := newTestRailway(server.URL)
	err := c.RestartDeployment(context.Background(), "dep-42")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Not Authorized")
}

func TestRestartDeploymentSendsMutation(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"data":{"deploymentRestart":true}}`))
	}))
	defer server.Close()

	c := newTestRailway(server.URL)
	require.NoError(t, c.RestartDeployment(context.Background(), "dep-42"))

	payload := gjson.ParseBytes(captured)
	require.Contains(t, payload.Get("query").String(), "deploymentRestart(id: $id)")
	require.Equal(t, "dep-42", payload.Get("variables.id").String())
}
