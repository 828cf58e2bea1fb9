package persist

import "fmt"

// NFT is a unique token in a tenant's namespace. Value type; referenced by id
// everywhere outside the graph store, never by pointer.
type NFT struct {
	ID             NFTID        `json:"id" binding:"required"`
	Name           string       `json:"name,omitempty" binding:"max_string_length=200"`
	Owner          WalletID     `json:"owner,omitempty" binding:"required"`
	Collection     CollectionID `json:"collection,omitempty" binding:"collection_name"`
	EstimatedValue float64      `json:"estimatedValue,omitempty" binding:"gte=0"`
	Currency       string       `json:"currency,omitempty" binding:"currency"`
}

// Wallet is a participant in a tenant's graph. Sets are keyed maps; callers
// must treat a Wallet obtained from a snapshot as read-only.
type Wallet struct {
	ID                WalletID              `json:"id"`
	OwnedNFTs         map[NFTID]bool        `json:"ownedNFTs"`
	WantedNFTs        map[NFTID]bool        `json:"wantedNFTs"`
	WantedCollections map[CollectionID]bool `json:"wantedCollections"`
	RejectedWallets   map[WalletID]bool     `json:"rejectedWallets"`
	RejectedNFTs      map[NFTID]bool        `json:"rejectedNFTs"`
}

// NewWallet returns an empty wallet with all sets allocated.
func NewWallet(id WalletID) *Wallet {
	return &Wallet{
		ID:                id,
		OwnedNFTs:         map[NFTID]bool{},
		WantedNFTs:        map[NFTID]bool{},
		WantedCollections: map[CollectionID]bool{},
		RejectedWallets:   map[WalletID]bool{},
		RejectedNFTs:      map[NFTID]bool{},
	}
}

// Copy returns a deep copy of the wallet.
func (w *Wallet) Copy() *Wallet {
	cp := NewWallet(w.ID)
	for k := range w.OwnedNFTs {
		cp.OwnedNFTs[k] = true
	}
	for k := range w.WantedNFTs {
		cp.WantedNFTs[k] = true
	}
	for k := range w.WantedCollections {
		cp.WantedCollections[k] = true
	}
	for k := range w.RejectedWallets {
		cp.RejectedWallets[k] = true
	}
	for k := range w.RejectedNFTs {
		cp.RejectedNFTs[k] = true
	}
	return cp
}

// RejectionUpdate replaces a wallet's rejection lists wholesale.
type RejectionUpdate struct {
	Wallets []WalletID `json:"wallets"`
	NFTs    []NFTID    `json:"nfts"`
}

// ErrTenantNotFound is returned when a tenant id resolves to nothing.
type ErrTenantNotFound struct {
	ID TenantID
}

func (e ErrTenantNotFound) Error() string {
	return fmt.Sprintf("tenant not found: %s", e.ID)
}

// ErrNFTNotFound is returned when an NFT id resolves to nothing.
type ErrNFTNotFound struct {
	ID NFTID
}

func (e ErrNFTNotFound) Error() string {
	return fmt.Sprintf("nft not found: %s", e.ID)
}

// ErrWalletNotFound is returned when a wallet id resolves to nothing.
type ErrWalletNotFound struct {
	ID WalletID
}

func (e ErrWalletNotFound) Error() string {
	return fmt.Sprintf("wallet not found: %s", e.ID)
}

// ErrNFTOwnedByWallet is returned when an NFT is submitted with an owner that
// conflicts with the recorded owner.
type ErrNFTOwnedByWallet struct {
	NFT   NFTID
	Owner WalletID
}

func (e ErrNFTOwnedByWallet) Error() string {
	return fmt.Sprintf("nft %s already owned by wallet %s", e.NFT, e.Owner)
}

// ErrTenantBusy is returned when a tenant's mutation queue is full.
type ErrTenantBusy struct {
	ID TenantID
}

func (e ErrTenantBusy) Error() string {
	return fmt.Sprintf("tenant busy: %s", e.ID)
}

// ErrInvalidMutation is returned when a submitted mutation fails validation.
type ErrInvalidMutation struct {
	Reason string
}

func (e ErrInvalidMutation) Error() string {
	return fmt.Sprintf("invalid mutation: %s", e.Reason)
}

// ErrCollectionBlacklisted is returned when a mutation references a
// collection on the tenant's blacklist.
type ErrCollectionBlacklisted struct {
	ID CollectionID
}

func (e ErrCollectionBlacklisted) Error() string {
	return fmt.Sprintf("collection blacklisted: %s", e.ID)
}

// ErrWalletLimitExceeded is returned when a wallet exceeds a security bound.
type ErrWalletLimitExceeded struct {
	Wallet WalletID
	Limit  string
}

func (e ErrWalletLimitExceeded) Error() string {
	return fmt.Sprintf("wallet %s exceeded limit: %s", e.Wallet, e.Limit)
}
