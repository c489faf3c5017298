// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/rental-ledger/internal/handler"
	"github.com/iliyamo/rental-ledger/internal/middleware"
	"github.com/iliyamo/rental-ledger/internal/model"
)

// Roles allowed on authenticated ledger routes.  Both may own and rent.
var memberRoles = []string{model.RoleOwner, model.RoleRenter}

// Options carries the optional middleware of the ledger routes.  Nil
// entries are skipped.
type Options struct {
	JWTSecret    string
	RateLimit    echo.MiddlewareFunc
	ListingCache echo.MiddlewareFunc
}

func chain(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the account endpoints.  They need the MySQL
// account tables.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, opts Options) {
	g := e.Group("/v1/auth")
	limit := chain(opts.RateLimit)
	g.POST("/register", a.Register, limit...)
	g.POST("/login", a.Login, limit...)
	g.POST("/refresh", a.Refresh, limit...)
	g.POST("/refresh-access", a.RefreshAccess, limit...)
	g.POST("/logout", a.Logout, limit...)
	e.POST("/v1/logout", a.Logout, limit...)
}

// RegisterLedger registers the public reads and the authenticated
// mutations of the rental ledger.
func RegisterLedger(e *echo.Echo, h *handler.LedgerHandler, opts Options) {
	public := chain(opts.RateLimit)
	auth := chain(middleware.JWTAuth(opts.JWTSecret), middleware.RequireRole(memberRoles...), opts.RateLimit)

	e.GET("/v1/me", handler.Me, auth...)
	e.GET("/v1/me/balance", h.MyBalance, auth...)

	g := e.Group("/v1/assets")
	g.GET("/:id", h.GetAsset, public...)
	g.GET("/:id/listing", h.GetListing, chain(opts.RateLimit, opts.ListingCache)...)
	g.GET("/:id/user", h.GetUser, public...)
	g.GET("/:id/deposit", h.GetDeposit, public...)
	g.GET("/:id/maintenance", h.ListMaintenance, public...)
	g.GET("/:id/maintenance/:index", h.GetMaintenance, public...)

	g.POST("", h.CreateAsset, auth...)
	g.POST("/:id/transfer", h.TransferAsset, auth...)
	g.PUT("/:id/listing", h.PutListing, auth...)
	g.PUT("/:id/user", h.SetUser, auth...)
	g.POST("/:id/deposit", h.PayDeposit, auth...)
	g.POST("/:id/deposit/return", h.ReturnDeposit, auth...)
	g.POST("/:id/maintenance", h.SubmitMaintenance, auth...)
	g.POST("/:id/maintenance/:index/resolve", h.ResolveMaintenance, auth...)
}
