package milestone

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conticomp/xprotect-export/internal/config"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(config.MilestoneConfig{
		ServerURL:      srv.URL,
		Username:       "svc-export",
		Password:       "secret",
		RequestTimeout: 5 * time.Second,
	}, nil)
}

func authenticate(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.Authenticate(context.Background()))
}

func TestAuthenticate(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/API/IDP/connect/token", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	assert.False(t, c.Authenticated())

	authenticate(t, c)

	assert.True(t, c.Authenticated())
	assert.Equal(t, "password", gotForm.Get("grant_type"))
	assert.Equal(t, "svc-export", gotForm.Get("username"))
	assert.Equal(t, "secret", gotForm.Get("password"))
	assert.Equal(t, oauthClientID, gotForm.Get("client_id"))
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Authenticate(context.Background())
	assert.Error(t, err)
	assert.False(t, c.Authenticated())
}

func TestCamerasRequiresAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected before authentication")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Cameras(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestCameras(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/API/IDP/connect/token":
			_, _ = w.Write([]byte(`{"access_token":"tok-123"}`))
		case "/api/rest/v1/cameras":
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"array":[
				{"id":"cam-1","name":"Lobby","displayName":"Lobby Cam","enabled":true},
				{"id":"cam-2","name":"Dock","enabled":false}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	authenticate(t, c)

	cams, err := c.Cameras(context.Background())
	require.NoError(t, err)
	require.Len(t, cams, 2)
	assert.Equal(t, "Lobby Cam", cams[0].DisplayName)
	assert.Equal(t, "Dock", cams[1].DisplayName, "display name falls back to name")
	assert.False(t, cams[1].Enabled)
}

func TestResolveImageServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/API/IDP/connect/token":
			_, _ = w.Write([]byte(`{"access_token":"tok-123"}`))
		case "/api/rest/v1/cameras/cam-1":
			_, _ = w.Write([]byte(`{"data":{"id":"cam-1","relations":{"parent":{"type":"hardware","id":"hw-9"}}}}`))
		case "/api/rest/v1/hardware/hw-9":
			_, _ = w.Write([]byte(`{"data":{"id":"hw-9","relations":{"parent":{"type":"recordingServers","id":"rs-3"}}}}`))
		case "/api/rest/v1/recordingServers/rs-3":
			_, _ = w.Write([]byte(`{"data":{"id":"rs-3","hostName":"recorder.internal"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	authenticate(t, c)

	host, port, err := c.ResolveImageServer(context.Background(), "cam-1", 7563)
	require.NoError(t, err)
	assert.Equal(t, 7563, port)

	// The management server's own hostname wins over the recording
	// server's internal one.
	u, _ := url.Parse(srv.URL)
	assert.Equal(t, u.Hostname(), host)
}

func TestResolveImageServerBrokenTopology(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/API/IDP/connect/token":
			_, _ = w.Write([]byte(`{"access_token":"tok-123"}`))
		case "/api/rest/v1/cameras/cam-orphan":
			_, _ = w.Write([]byte(`{"data":{"id":"cam-orphan","relations":{"parent":{"type":"group","id":"g-1"}}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	authenticate(t, c)

	_, _, err := c.ResolveImageServer(context.Background(), "cam-orphan", 7563)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hardware parent")
}
