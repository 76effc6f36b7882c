package api

// TokenRequest is an OAuth2 client credentials token request. Clients may
// send their credentials in the body or with HTTP Basic authentication.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
}

// TokenResponse is the RFC 6749 access token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// OAuthErrorResponse is the RFC 6749 error body of the token endpoint.
type OAuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Detail string `json:"detail"`
}
