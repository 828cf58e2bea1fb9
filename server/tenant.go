package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/registry"
	"github.com/barterlabs/go-barter/service/tenant"
	"github.com/barterlabs/go-barter/util"
)

type createTenantInput struct {
	Name   string                `json:"name" binding:"required,tenant_name"`
	Config *persist.TenantConfig `json:"config"`
}

type createTenantOutput struct {
	Tenant persist.Tenant `json:"tenant"`
}

func createTenant(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input createTenantInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		cfg := persist.DefaultTenantConfig()
		if input.Config != nil {
			cfg = *input.Config
		}

		created, err := engine.CreateTenant(c, input.Name, cfg)
		if err != nil {
			statusForError(c, err)
			return
		}

		c.JSON(http.StatusCreated, createTenantOutput{Tenant: created})
	}
}

type listTenantsOutput struct {
	Tenants []persist.TenantID `json:"tenants"`
}

func listTenants(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, listTenantsOutput{Tenants: engine.TenantIDs()})
	}
}

func deleteTenant(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.DeleteTenant(c, persist.TenantID(c.Param("id"))); err != nil {
			statusForError(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func updateTenantConfig(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg persist.TenantConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		if err := engine.UpdateTenantConfig(c, persist.TenantID(c.Param("id")), cfg); err != nil {
			statusForError(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func getTenantStatus(engine *tenant.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := engine.Status(c, persist.TenantID(c.Param("id")))
		if err != nil {
			statusForError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// statusForError maps domain errors onto HTTP responses.
func statusForError(c *gin.Context, err error) {
	switch {
	case errors.As(err, &persist.ErrTenantNotFound{}),
		errors.As(err, &persist.ErrNFTNotFound{}),
		errors.As(err, &persist.ErrWalletNotFound{}),
		errors.As(err, &registry.ErrLoopNotFound{}):
		util.ErrResponse(c, http.StatusNotFound, err)
	case errors.As(err, &persist.ErrInvalidMutation{}):
		util.ErrResponse(c, http.StatusBadRequest, err)
	case errors.As(err, &persist.ErrNFTOwnedByWallet{}):
		util.ErrResponse(c, http.StatusConflict, err)
	case errors.As(err, &persist.ErrCollectionBlacklisted{}),
		errors.As(err, &persist.ErrWalletLimitExceeded{}):
		util.ErrResponse(c, http.StatusForbidden, err)
	case errors.As(err, &persist.ErrTenantBusy{}):
		util.ErrResponse(c, http.StatusServiceUnavailable, err)
	default:
		util.ErrResponse(c, http.StatusInternalServerError, err)
	}
}
