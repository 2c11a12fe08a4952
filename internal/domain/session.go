package domain

import "time"

// Session is a stored platform session for a tenant. Data is sealed by the vault.
type Session struct {
	ID         string     `json:"id"`
	ShopDomain string     `json:"shop_domain"`
	Data       []byte     `json:"-"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
