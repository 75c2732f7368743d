// migrate applies the embedded Postgres schema: go run ./cmd/migrate -direction up
package main

import (
	"flag"
	"fmt"
	"os"

	"example.com/meetingactivity/internal/config"
	persistence "example.com/meetingactivity/internal/persistence/postgres"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if err := persistence.Migrate(cfg.PostgresURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
