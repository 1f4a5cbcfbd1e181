// Package milestone talks to an XProtect management server: OAuth
// authentication, camera inventory, and the topology lookups needed to open
// an ImageServer session against the right recording server.
package milestone

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conticomp/xprotect-export/internal/config"
	"github.com/conticomp/xprotect-export/internal/logger"
)

// oauthClientID is the IDP client id accepted for the password grant.
const oauthClientID = "GrantValidatorClient"

// ErrNotAuthenticated is returned when an API call runs before Authenticate.
var ErrNotAuthenticated = fmt.Errorf("milestone: not authenticated")

// Client is a management-server API client. Safe for concurrent use; the
// bearer token is guarded and shared across calls.
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration

	httpClient *http.Client
	logger     logger.Logger

	// instanceID identifies this client to the SOAP command service. One
	// random id per client lifetime.
	instanceID string

	mu          sync.RWMutex
	accessToken string
	tokenType   string
}

// NewClient builds a client from configuration. TLS verification is
// disabled when the config says so; self-signed certificates are the norm
// on VMS installs.
func NewClient(cfg config.MilestoneConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNullLogger()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.ServerURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger:     log.WithField("component", "milestone"),
		instanceID: uuid.New().String(),
		tokenType:  "Bearer",
	}
}

// Authenticate performs the OAuth password grant against the IDP and stores
// the bearer token for subsequent calls.
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.username},
		"password":   {c.password},
		"client_id":  {oauthClientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/API/IDP/connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("milestone: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("milestone: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("milestone: token endpoint returned %s", resp.Status)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("milestone: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("milestone: token response carried no access token")
	}

	c.mu.Lock()
	c.accessToken = tok.AccessToken
	if tok.TokenType != "" {
		c.tokenType = tok.TokenType
	}
	c.mu.Unlock()

	c.logger.Debug("Authenticated with management server")
	return nil
}

// Authenticated reports whether a bearer token is held.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken != ""
}

// authorization returns the Authorization header value for the current
// token.
func (c *Client) authorization() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" {
		return "", ErrNotAuthenticated
	}
	return c.tokenType + " " + c.accessToken, nil
}

// Cameras lists all cameras known to the management server.
func (c *Client) Cameras(ctx context.Context) ([]Camera, error) {
	var list cameraListResponse
	if err := c.getJSON(ctx, "/api/rest/v1/cameras", &list); err != nil {
		return nil, err
	}
	for i := range list.Array {
		if list.Array[i].DisplayName == "" {
			list.Array[i].DisplayName = list.Array[i].Name
		}
	}
	return list.Array, nil
}

// cameraDetails fetches one camera's configuration item.
func (c *Client) cameraDetails(ctx context.Context, cameraID string) (restItem, error) {
	var resp itemResponse
	err := c.getJSON(ctx, "/api/rest/v1/cameras/"+url.PathEscape(cameraID), &resp)
	return resp.Data, err
}

// hardware fetches one hardware configuration item.
func (c *Client) hardware(ctx context.Context, hardwareID string) (restItem, error) {
	var resp itemResponse
	err := c.getJSON(ctx, "/api/rest/v1/hardware/"+url.PathEscape(hardwareID), &resp)
	return resp.Data, err
}

// recordingServer fetches one recording server configuration item.
func (c *Client) recordingServer(ctx context.Context, serverID string) (restItem, error) {
	var resp itemResponse
	err := c.getJSON(ctx, "/api/rest/v1/recordingServers/"+url.PathEscape(serverID), &resp)
	return resp.Data, err
}

// ResolveImageServer walks camera -> hardware -> recording server and
// returns the host and port to dial for frame retrieval. The management
// server's own hostname takes priority over the recording server's internal
// one, which is often unreachable across VPNs.
func (c *Client) ResolveImageServer(ctx context.Context, cameraID string, port int) (string, int, error) {
	camera, err := c.cameraDetails(ctx, cameraID)
	if err != nil {
		return "", 0, err
	}
	if camera.Relations.Parent.Type != "hardware" || camera.Relations.Parent.ID == "" {
		return "", 0, fmt.Errorf("milestone: no hardware parent for camera %s", cameraID)
	}

	hw, err := c.hardware(ctx, camera.Relations.Parent.ID)
	if err != nil {
		return "", 0, err
	}
	if hw.Relations.Parent.Type != "recordingServers" || hw.Relations.Parent.ID == "" {
		return "", 0, fmt.Errorf("milestone: no recording server parent for hardware %s", hw.ID)
	}

	rs, err := c.recordingServer(ctx, hw.Relations.Parent.ID)
	if err != nil {
		return "", 0, err
	}

	host := c.baseHostname()
	if host == "" {
		host = rs.HostName
	}
	if host == "" {
		return "", 0, fmt.Errorf("milestone: no hostname for recording server %s", rs.ID)
	}

	c.logger.WithFields(logger.Fields{
		"camera_id": cameraID,
		"host":      host,
		"port":      port,
	}).Debug("Resolved recording server")
	return host, port, nil
}

// baseHostname extracts the hostname from the configured server URL.
func (c *Client) baseHostname() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// getJSON performs an authenticated GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	auth, err := c.authorization()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("milestone: build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("milestone: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("milestone: GET %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("milestone: decode %s response: %w", path, err)
	}
	return nil
}
