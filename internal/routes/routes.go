package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/medfuse/broker-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(auth *handlers.AuthHandler, query *handlers.QueryHandler, execute *handlers.ExecuteHandler, notification *handlers.NotificationHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)

	// Query lifecycle
	router.HandleFunc("/query/new/", query.CreateQuery).Methods(http.MethodPost)
	router.HandleFunc("/query/{queryID}", query.GetQuery).Methods(http.MethodGet)
	router.HandleFunc("/query/{queryID}", query.DeleteQuery).Methods(http.MethodDelete)

	// Output lifecycle. POST is routed like PUT so that output requests
	// against an unknown id answer 404 rather than 405.
	router.HandleFunc("/query/{queryID}/output", query.GetOutput).Methods(http.MethodGet)
	router.HandleFunc("/query/{queryID}/output", query.UpdateOutput).Methods(http.MethodPut, http.MethodPost)
	router.HandleFunc("/query/{queryID}/output", query.DeleteOutput).Methods(http.MethodDelete)

	// Execution
	router.HandleFunc("/execute", execute.Execute).Methods(http.MethodPost)
	router.HandleFunc("/execute/{queryID}", execute.Poll).Methods(http.MethodGet)

	// Operator surface
	router.Handle("/api/queries", auth.JWTMiddleware(http.HandlerFunc(query.ListQueries))).Methods(http.MethodGet)
	router.Handle("/api/notifications", auth.JWTMiddleware(http.HandlerFunc(notification.List))).Methods(http.MethodGet)
	router.Handle("/api/notifications/{notificationID}/read", auth.JWTMiddleware(http.HandlerFunc(notification.MarkRead))).Methods(http.MethodPost)

	return router
}
