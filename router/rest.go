package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"realtimechat/controller"
)

// Rest mounts the /v1 routes. auth authenticates the caller and rbac checks
// its role against the route.
func Rest(app *fiber.App, h *controller.Controller, auth []fiber.Handler, rbac fiber.Handler) {
	api := app.Group("/v1", logger.New())

	guard := func(handler fiber.Handler) []fiber.Handler {
		chain := make([]fiber.Handler, 0, len(auth)+2)
		chain = append(chain, auth...)
		return append(chain, rbac, handler)
	}

	// Auth
	authGroup := api.Group("/auth")
	authGroup.Post("/signup", h.AuthSignup)
	authGroup.Post("/signin", h.AuthSignin)
	authGroup.Post("/token/renew", h.AuthTokenRenew)
	authGroup.Post("/signout", guard(h.AuthSignout)...)

	// Profiles
	api.Get("/profiles", guard(h.ProfileList)...)
	api.Get("/profiles/:id", guard(h.ProfileGet)...)
	api.Get("/profile", guard(h.ProfileMe)...)
	api.Put("/profile", guard(h.ProfileUpdate)...)

	// Attachments; downloads are public so avatar URLs work anywhere
	api.Post("/attachments", guard(h.AttachmentUpload)...)
	api.Get("/attachments/*", h.AttachmentDownload)

	// Conversations
	api.Get("/conversations", guard(h.ConversationList)...)
	api.Get("/conversations/:peer/messages", guard(h.ConversationMessages)...)
	api.Post("/conversations/:peer/messages", guard(h.ConversationSend)...)
}
