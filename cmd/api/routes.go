package main

import (
	"net/http"

	"go.uber.org/zap"

	httphandlers "finlink/internal/interfaces/http"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, logger *zap.Logger) http.Handler {
	return httphandlers.NewRouter(httphandlers.RouterConfig{
		Connections:  deps.ConnectionHandler,
		Institutions: deps.InstitutionHandler,
		JWT:          deps.JWT,
		Metrics:      deps.Metrics,
		Logger:       logger.Named("http"),
	})
}
