package domain

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Settings keys understood by the core.
const (
	SettingNeedsReauth = "needs_reauth"
)

var shopDomainRegex = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)+$`)

// Tenant is one installed instance of the integration, keyed by shop domain.
type Tenant struct {
	ID            uuid.UUID              `json:"id"`
	ShopDomain    string                 `json:"shop_domain"`
	Profile       Profile                `json:"profile"`
	IsActive      bool                   `json:"is_active"`
	InstalledAt   time.Time              `json:"installed_at"`
	UninstalledAt *time.Time             `json:"uninstalled_at,omitempty"`
	Credential    []byte                 `json:"-"`
	Settings      map[string]interface{} `json:"settings,omitempty"`
	Features      []string               `json:"features,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Profile holds the optional shop fields sourced from the platform.
type Profile struct {
	Name     string  `json:"name,omitempty"`
	Email    string  `json:"email,omitempty"`
	Phone    string  `json:"phone,omitempty"`
	Locale   string  `json:"locale,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Address  Address `json:"address"`
}

type Address struct {
	Address1 string `json:"address1,omitempty"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	Province string `json:"province,omitempty"`
	Country  string `json:"country,omitempty"`
	Zip      string `json:"zip,omitempty"`
}

// TenantSettings is the typed view over the free-form settings map.
type TenantSettings struct {
	NeedsReauth bool `json:"needs_reauth"`
}

// GetSettings returns typed tenant settings with defaults for missing values
func (t *Tenant) GetSettings() TenantSettings {
	var settings TenantSettings
	if t.Settings == nil {
		return settings
	}
	if v, ok := t.Settings[SettingNeedsReauth].(bool); ok {
		settings.NeedsReauth = v
	}
	return settings
}

// HasFeature reports whether the feature flag is enabled for the tenant.
func (t *Tenant) HasFeature(flag string) bool {
	return slices.Contains(t.Features, flag)
}

// HasCredential reports whether an encrypted credential is stored.
func (t *Tenant) HasCredential() bool {
	return len(t.Credential) > 0
}

// Validate checks the stored invariants: a unique well-formed key and
// active=true implying a credential.
func (t *Tenant) Validate() error {
	if err := ValidateShopDomain(t.ShopDomain); err != nil {
		return err
	}

	if t.IsActive && !t.HasCredential() {
		return errors.New("active tenant must hold a credential")
	}

	if t.IsActive && t.UninstalledAt != nil {
		return errors.New("active tenant cannot have an uninstall timestamp")
	}

	return nil
}

// NormalizeShopDomain lowercases and trims a tenant key.
func NormalizeShopDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ValidateShopDomain checks the tenant key format.
func ValidateShopDomain(domain string) error {
	if domain == "" {
		return ErrInvalidTenantKey.WithError(errors.New("shop domain cannot be empty"))
	}
	if !shopDomainRegex.MatchString(domain) {
		return ErrInvalidTenantKey
	}
	return nil
}
