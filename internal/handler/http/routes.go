package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const greeting = "go-card-sync: personal flashcard sync server\n"

func (h *Handler) Init() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.withTraceID)
	router.Use(h.withLogging)
	router.Use(withGZip)

	// both URL prefixes accept both operation families; clients have
	// historically mixed them up and the dispatcher sorts it out
	router.Post(h.baseURL+"/{op}", h.syncOp)
	router.Post(h.baseMediaURL+"/{op}", h.syncOp)

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(greeting))
	})

	router.MethodNotAllowed(CheckHTTPMethod(router))

	return router
}
