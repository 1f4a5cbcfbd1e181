package milestone

// Camera is one camera entry from the management server's REST listing.
type Camera struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Enabled     bool   `json:"enabled"`
}

// tokenResponse is the IDP token endpoint's JSON body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// relation points at a parent or child item in the configuration tree.
type relation struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// restItem is the common shape of a single configuration item. Only the
// fields the topology traversal needs are mapped.
type restItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	HostName string `json:"hostName"`

	Relations struct {
		Parent relation `json:"parent"`
	} `json:"relations"`
}

// cameraListResponse wraps the REST array envelope.
type cameraListResponse struct {
	Array []Camera `json:"array"`
}

// itemResponse wraps the REST single-item envelope.
type itemResponse struct {
	Data restItem `json:"data"`
}
