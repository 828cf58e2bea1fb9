package persist

import (
	"time"

	"github.com/segmentio/ksuid"
)

// TenantID identifies an isolated partner namespace. All other ids are scoped
// to a tenant and never compared across tenants.
type TenantID string

// WalletID identifies a wallet within a tenant.
type WalletID string

// NFTID identifies an NFT within a tenant.
type NFTID string

// CollectionID identifies a collection within a tenant.
type CollectionID string

// LoopID is the rotation-invariant canonical hash of a trade loop.
type LoopID string

// DBID represents an application-generated record ID
type DBID string

// GenerateID generates an application-wide unique ID
func GenerateID() DBID {
	id, err := ksuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return DBID(id.String())
}

func (t TenantID) String() string     { return string(t) }
func (w WalletID) String() string     { return string(w) }
func (n NFTID) String() string        { return string(n) }
func (c CollectionID) String() string { return string(c) }
func (l LoopID) String() string       { return string(l) }
func (d DBID) String() string         { return string(d) }

// Tenant is the root record for a partner namespace.
type Tenant struct {
	ID          TenantID     `json:"id"`
	Name        string       `json:"name"`
	Config      TenantConfig `json:"config"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

// WebhookConfig is a tenant's webhook delivery configuration.
type WebhookConfig struct {
	URL     string `json:"url" validate:"omitempty,url"`
	Secret  string `json:"secret"`
	Enabled bool   `json:"enabled"`
}

// SecurityConfig bounds what a single wallet may submit.
type SecurityConfig struct {
	MaxNFTsPerWallet       int            `json:"maxNFTsPerWallet" validate:"min=0"`
	MaxWantsPerWallet      int            `json:"maxWantsPerWallet" validate:"min=0"`
	BlacklistedCollections []CollectionID `json:"blacklistedCollections"`
}

// TenantConfig holds the per-tenant discovery knobs.
type TenantConfig struct {
	MaxDepth                int            `json:"maxDepth" validate:"min=2,max=12"`
	MinScore                float64        `json:"minScore" validate:"min=0,max=1"`
	MaxLoopsPerRequest      int            `json:"maxLoopsPerRequest" validate:"min=1"`
	EnableCollectionTrading bool           `json:"enableCollectionTrading"`
	SCCConcurrency          int            `json:"sccConcurrency" validate:"min=1,max=16"`
	Webhook                 WebhookConfig  `json:"webhook"`
	Security                SecurityConfig `json:"security"`
}

// DefaultTenantConfig returns the config applied to newly created tenants.
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		MaxDepth:                10,
		MinScore:                0.5,
		MaxLoopsPerRequest:      1000,
		EnableCollectionTrading: true,
		SCCConcurrency:          6,
		Security: SecurityConfig{
			MaxNFTsPerWallet:  10000,
			MaxWantsPerWallet: 10000,
		},
	}
}
