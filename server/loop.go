package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/registry"
	"github.com/barterlabs/go-barter/service/tenant"
	"github.com/barterlabs/go-barter/util"
)

type getLoopsOutput struct {
	Loops []persist.TradeLoop `json:"loops"`
}

func getLoops(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := registry.QueryOptions{
			WalletID: persist.WalletID(c.Query("walletId")),
		}

		if raw := c.Query("minScore"); raw != "" {
			minScore, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				util.ErrResponse(c, http.StatusBadRequest, util.ErrInvalidInput{Reason: "minScore must be a number"})
				return
			}
			opts.MinScore = minScore
		}

		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				util.ErrResponse(c, http.StatusBadRequest, util.ErrInvalidInput{Reason: "limit must be a non-negative integer"})
				return
			}
			opts.Limit = limit
		}

		loops, err := engine.QueryLoops(c, persist.TenantID(c.Param("id")), opts)
		if err != nil {
			statusForError(c, err)
			return
		}
		if loops == nil {
			loops = []persist.TradeLoop{}
		}

		c.JSON(http.StatusOK, getLoopsOutput{Loops: loops})
	}
}
