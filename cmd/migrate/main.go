// migrate applies the embedded SQL migrations to DATABASE_URL.
package main

import (
	"flag"
	"fmt"
	"os"

	"practicum/internal/platform/config"
	"practicum/internal/platform/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if err := migrate.Run(cfg.Database.URL, migrate.Direction(*direction)); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
