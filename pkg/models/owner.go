package models

import (
	"time"
)

// Owner is the account that uploads documents and sends them for signature.
type Owner struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
