package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/accreditationplan/internal/services"
)

var (
	planAPIInstance *services.PlanAPIFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandlePlanAPI" is the entry point name configured in GCP.
	functions.HTTP("HandlePlanAPI", handlePlanAPI)
}

// main starts a local server when run directly; in Cloud Functions the
// framework owns the process and main is not called.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("Server stopped.", "error", err)
		os.Exit(1)
	}
}

func handlePlanAPI(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		planAPIInstance, initErr = services.NewPlanAPI(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	planAPIInstance.Sweep(r.Context())
	planAPIInstance.ServeHTTP(w, r)
}
