package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/observability"
)

// RouteConfig bundles dependencies for the backend routes.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires the ticket backend API.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health", cfg.Health.Health)
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Handler())
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	protected.Get("/tickets", cfg.Tickets.ListTickets)
	protected.Post("/tickets", cfg.Tickets.CreateTicket)
	protected.Get("/tickets/:id", cfg.Tickets.GetTicket)
	protected.Patch("/tickets/:id", cfg.Tickets.PatchTicket)
	protected.Get("/tickets/:id/messages", cfg.Tickets.ListMessages)
	protected.Post("/tickets/:id/messages", cfg.Tickets.AddMessage)
	protected.Get("/tickets/:id/history", cfg.Tickets.History)
	protected.Get("/users", auth.RequireRole(domain.RoleAdministrator), cfg.Users.ListUsers)
}

// DeskRouteConfig bundles dependencies for the desk routes.
type DeskRouteConfig struct {
	Desk           *handlers.DeskHandler
	Health         *handlers.HealthHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterDeskRoutes wires the presentation surface over the ticket store.
func RegisterDeskRoutes(app *fiber.App, cfg DeskRouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Handler())
	}
	app.Get("/connectivity", cfg.Desk.Connectivity)
	app.Post("/connectivity/recheck", cfg.Desk.Recheck)

	session := app.Group("/session")
	session.Post("/login", cfg.Desk.Login)
	session.Post("/register", cfg.Desk.Register)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	protected.Get("/session", cfg.Desk.Me)
	protected.Post("/session/logout", cfg.Desk.Logout)
	protected.Get("/snapshot", cfg.Desk.Snapshot)
	protected.Get("/snapshot/stream", cfg.Desk.Stream)

	protected.Get("/tickets", cfg.Desk.ListTickets)
	protected.Post("/tickets", auth.RequireRole(domain.RoleRequester, domain.RoleAdministrator), cfg.Desk.CreateTicket)
	protected.Get("/tickets/:id/messages", cfg.Desk.ListMessages)
	protected.Post("/tickets/:id/messages", cfg.Desk.AddMessage)
	protected.Post("/tickets/:id/claim", auth.RequireRole(domain.RoleTechnician, domain.RoleAdministrator), cfg.Desk.Claim)
	protected.Post("/tickets/:id/reassign", auth.RequireRole(domain.RoleAdministrator), cfg.Desk.Reassign)
	protected.Post("/tickets/:id/advance", cfg.Desk.Advance)
	protected.Post("/tickets/:id/work", cfg.Desk.RecordWork)
	protected.Post("/tickets/:id/priority", auth.RequireRole(domain.RoleAdministrator), cfg.Desk.SetPriority)
	protected.Post("/tickets/:id/rate", auth.RequireRole(domain.RoleRequester), cfg.Desk.Rate)

	protected.Get("/users", cfg.Desk.ListUsers)
	protected.Post("/users", auth.RequireRole(domain.RoleAdministrator), cfg.Desk.CreateUser)
	protected.Patch("/users/:id", auth.RequireRole(domain.RoleAdministrator), cfg.Desk.UpdateUser)
}
