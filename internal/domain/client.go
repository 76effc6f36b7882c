package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyClientID     = errors.New("client ID cannot be empty")
	ErrEmptyClientSecret = errors.New("client secret hash cannot be empty")
)

// Client is an API consumer allowed to obtain tokens with the client
// credentials grant. Only the bcrypt hash of its secret is stored.
type Client struct {
	ID         string    `json:"client_id"`
	Name       string    `json:"name"`
	SecretHash string    `json:"-"`
	Scopes     []string  `json:"scopes"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks if the Client has valid data.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyClientID
	}
	if c.SecretHash == "" {
		return ErrEmptyClientSecret
	}
	return nil
}

// Scope renders the scopes in OAuth2's space-separated form.
func (c *Client) Scope() string {
	return strings.Join(c.Scopes, " ")
}
