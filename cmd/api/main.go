package main

import (
	"fmt"
	"net/http"
	"os"

	"chicknneeds-api/internal/app"
)

func main() {
	runtime, err := app.Build(app.Options{
		LoadDotEnv:    true,
		RunMigrations: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer runtime.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	runtime.Logger.Info("server_listening", map[string]any{"port": port})
	if err := http.ListenAndServe(":"+port, runtime.Handler); err != nil {
		runtime.Logger.Error("server_stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
