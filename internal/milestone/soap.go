package milestone

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// The ImageServer handshake requires a session token from the SOAP command
// service; the OAuth bearer token is not accepted on port 7563.
const (
	soapLoginPath   = "/ManagementServer/ServerCommandServiceOAuth.svc"
	soapLoginAction = "http://videoos.net/2/XProtectCSServerCommand/IServerCommandService/Login"

	soapLoginEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:xsc="http://videoos.net/2/XProtectCSServerCommand">
  <soap:Body>
    <xsc:Login>
      <xsc:instanceId>%s</xsc:instanceId>
      <xsc:currentToken></xsc:currentToken>
    </xsc:Login>
  </soap:Body>
</soap:Envelope>`
)

// The token element may or may not carry a namespace prefix depending on
// the server's serializer. Extracted by shape, not by a full XML parse.
var soapTokenPattern = regexp.MustCompile(`<(?:a:)?Token>([^<]+)</(?:a:)?Token>`)

// ImageServerToken obtains a fresh session token for ImageServer
// connections via the SOAP Login operation, authorized by the OAuth bearer
// token.
func (c *Client) ImageServerToken(ctx context.Context) (string, error) {
	auth, err := c.authorization()
	if err != nil {
		return "", err
	}

	envelope := fmt.Sprintf(soapLoginEnvelope, c.instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+soapLoginPath, strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("milestone: build SOAP login request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapLoginAction)
	req.Header.Set("Authorization", auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("milestone: SOAP login: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("milestone: read SOAP login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("milestone: SOAP login returned %s", resp.Status)
	}

	m := soapTokenPattern.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("milestone: no session token in SOAP login response")
	}

	c.logger.Debug("Obtained ImageServer session token")
	return string(m[1]), nil
}
