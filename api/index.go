package api

import (
	"net/http"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"chicknneeds-api/internal/app"
)

var (
	bootOnce sync.Once
	runtime  *app.Runtime
	bootErr  error
)

// Handler is the serverless entrypoint. The runtime is built once per
// instance and reused across invocations.
func Handler(w http.ResponseWriter, r *http.Request) {
	bootOnce.Do(func() {
		runtime, bootErr = app.Build(app.Options{
			LoadDotEnv:    false,
			RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		})
	})

	if bootErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"application bootstrap failed"}`))
		return
	}

	runtime.Handler.ServeHTTP(w, r)
}
