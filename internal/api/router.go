package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/ws", apiHandler.WebSocketHandler)

			r.Route("/rooms", func(r chi.Router) {
				r.Get("/", apiHandler.ListRoomsHandler)
				r.Post("/", apiHandler.CreateRoomHandler)

				r.Route("/{roomID}", func(r chi.Router) {
					r.Delete("/", apiHandler.DeleteRoomHandler)
					r.Post("/join", apiHandler.JoinRoomHandler)
					r.Post("/leave", apiHandler.LeaveRoomHandler)

					r.Get("/messages", apiHandler.ListMessagesHandler)
					r.Post("/messages", apiHandler.PostMessageHandler)
					r.Post("/read", apiHandler.MarkReadHandler)
					r.Get("/unread", apiHandler.UnreadCountHandler)

					r.Get("/typing", apiHandler.ListTypingHandler)
					r.Post("/typing", apiHandler.SetTypingHandler)
					r.Delete("/typing", apiHandler.ClearTypingHandler)
				})
			})

			r.Get("/messages/search", apiHandler.SearchMessagesHandler)
			r.Route("/messages/{messageID}", func(r chi.Router) {
				r.Patch("/", apiHandler.EditMessageHandler)
				r.Delete("/", apiHandler.DeleteMessageHandler)
				r.Post("/reactions/{emoji}", apiHandler.AddReactionHandler)
				r.Delete("/reactions/{emoji}", apiHandler.RemoveReactionHandler)
			})

			r.Put("/me/status", apiHandler.UpdateStatusHandler)
			r.Get("/users", apiHandler.ListUsersHandler)
			r.Get("/stats", apiHandler.StatsHandler)
		})
	})

	return r
}
