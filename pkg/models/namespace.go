package models

import (
	"time"
)

// Token is an ingest token as issued by the admin system. Only the SHA-256
// digest of the secret is ever stored.
type Token struct {
	TokenHash string    `json:"-"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Namespace is what a valid token authorizes.
type Namespace struct {
	ID        string `json:"id"`
	TokenName string `json:"token_name"`
}
