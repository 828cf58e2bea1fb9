package persist

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationKind tags the Mutation union.
type MutationKind string

const (
	MutationAddNFT               MutationKind = "add_nft"
	MutationRemoveNFT            MutationKind = "remove_nft"
	MutationAddWant              MutationKind = "add_want"
	MutationRemoveWant           MutationKind = "remove_want"
	MutationAddCollectionWant    MutationKind = "add_collection_want"
	MutationRemoveCollectionWant MutationKind = "remove_collection_want"
	MutationUpdateRejections     MutationKind = "update_rejections"
	MutationMarkCompleted        MutationKind = "mark_completed"
)

// Mutation is the tagged union of every graph change a tenant can submit.
// Only the fields relevant to the Kind are set; Validate enforces that.
type Mutation struct {
	Kind       MutationKind     `json:"kind"`
	NFT        *NFT             `json:"nft,omitempty"`
	NFTID      NFTID            `json:"nftId,omitempty"`
	WalletID   WalletID         `json:"walletId,omitempty"`
	Collection CollectionID     `json:"collectionId,omitempty"`
	Rejections *RejectionUpdate `json:"rejections,omitempty"`
	LoopID     LoopID           `json:"loopId,omitempty"`
}

// Validate checks that the mutation carries the fields its kind requires.
func (m Mutation) Validate() error {
	switch m.Kind {
	case MutationAddNFT:
		if m.NFT == nil || m.NFT.ID == "" {
			return ErrInvalidMutation{Reason: "add_nft requires an nft with an id"}
		}
		if m.NFT.Owner == "" {
			return ErrInvalidMutation{Reason: "add_nft requires an owner"}
		}
		if m.NFT.EstimatedValue < 0 {
			return ErrInvalidMutation{Reason: "estimatedValue must be non-negative"}
		}
	case MutationRemoveNFT:
		if m.NFTID == "" {
			return ErrInvalidMutation{Reason: "remove_nft requires an nftId"}
		}
	case MutationAddWant, MutationRemoveWant:
		if m.WalletID == "" || m.NFTID == "" {
			return ErrInvalidMutation{Reason: fmt.Sprintf("%s requires walletId and nftId", m.Kind)}
		}
	case MutationAddCollectionWant, MutationRemoveCollectionWant:
		if m.WalletID == "" || m.Collection == "" {
			return ErrInvalidMutation{Reason: fmt.Sprintf("%s requires walletId and collectionId", m.Kind)}
		}
	case MutationUpdateRejections:
		if m.WalletID == "" || m.Rejections == nil {
			return ErrInvalidMutation{Reason: "update_rejections requires walletId and rejections"}
		}
	case MutationMarkCompleted:
		if m.LoopID == "" {
			return ErrInvalidMutation{Reason: "mark_completed requires a loopId"}
		}
	default:
		return ErrInvalidMutation{Reason: fmt.Sprintf("unknown mutation kind: %q", m.Kind)}
	}
	return nil
}

// GraphChangeKind tags entries in a tenant's change log.
type GraphChangeKind string

const (
	ChangeNFTAdded          GraphChangeKind = "nft_added"
	ChangeNFTRemoved        GraphChangeKind = "nft_removed"
	ChangeWantAdded         GraphChangeKind = "want_added"
	ChangeWantRemoved       GraphChangeKind = "want_removed"
	ChangeRejectionsUpdated GraphChangeKind = "wallet_rejection_updated"
)

// GraphChange is an append-only record of a graph mutation, used for delta
// detection and audit.
type GraphChange struct {
	Kind      GraphChangeKind `json:"kind"`
	EntityID  string          `json:"entityId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
