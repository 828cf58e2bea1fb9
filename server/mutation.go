package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/tenant"
	"github.com/barterlabs/go-barter/util"
)

// submit pushes a mutation into the tenant's pipeline and writes the verdict.
func submit(c *gin.Context, engine *tenant.Engine, m persist.Mutation) {
	if err := engine.Submit(c, persist.TenantID(c.Param("id")), m); err != nil {
		statusForError(c, err)
		return
	}
	c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
}

func addNFT(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var nft persist.NFT
		if err := c.ShouldBindJSON(&nft); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		submit(c, engine, persist.Mutation{Kind: persist.MutationAddNFT, NFT: &nft})
	}
}

func removeNFT(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		submit(c, engine, persist.Mutation{
			Kind:  persist.MutationRemoveNFT,
			NFTID: persist.NFTID(c.Param("nftId")),
		})
	}
}

type wantInput struct {
	WalletID persist.WalletID `json:"walletId" binding:"required"`
	NFTID    persist.NFTID    `json:"nftId" binding:"required"`
}

func addWant(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input wantInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		submit(c, engine, persist.Mutation{
			Kind:     persist.MutationAddWant,
			WalletID: input.WalletID,
			NFTID:    input.NFTID,
		})
	}
}

func removeWant(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input wantInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		submit(c, engine, persist.Mutation{
			Kind:     persist.MutationRemoveWant,
			WalletID: input.WalletID,
			NFTID:    input.NFTID,
		})
	}
}

type collectionWantInput struct {
	WalletID     persist.WalletID     `json:"walletId" binding:"required"`
	CollectionID persist.CollectionID `json:"collectionId" binding:"required"`
}

func addCollectionWant(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input collectionWantInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		submit(c, engine, persist.Mutation{
			Kind:       persist.MutationAddCollectionWant,
			WalletID:   input.WalletID,
			Collection: input.CollectionID,
		})
	}
}

func removeCollectionWant(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input collectionWantInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		submit(c, engine, persist.Mutation{
			Kind:       persist.MutationRemoveCollectionWant,
			WalletID:   input.WalletID,
			Collection: input.CollectionID,
		})
	}
}

func updateRejections(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update persist.RejectionUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		submit(c, engine, persist.Mutation{
			Kind:       persist.MutationUpdateRejections,
			WalletID:   persist.WalletID(c.Param("walletId")),
			Rejections: &update,
		})
	}
}

func completeLoop(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		submit(c, engine, persist.Mutation{
			Kind:   persist.MutationMarkCompleted,
			LoopID: persist.LoopID(c.Param("loopId")),
		})
	}
}
