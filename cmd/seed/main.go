// seed issues a write key for a workspace and prints the credential once.
// Usage: go run ./cmd/seed -workspace ws_123 -name "marketing site"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"embedded-sessions/internal/config"
	"embedded-sessions/internal/db"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/writekey"
)

func main() {
	workspace := flag.String("workspace", "", "workspace id the key may embed")
	name := flag.String("name", "default", "label for the key")
	flag.Parse()

	if *workspace == "" {
		fmt.Fprintln(os.Stderr, "seed: -workspace is required")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "seed: DATABASE_URL is required; in-memory keys would not outlive this process")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: 2})
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
	defer pool.Close()

	keys := writekey.NewAuthorizer(writekey.NewPostgresRepository(pool), security.NewSecretHasher(cfg.BcryptCost))
	key, credential, err := keys.Issue(ctx, *workspace, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed: issue write key:", err)
		os.Exit(1)
	}
	fmt.Printf("write key %s for workspace %s\n", key.ID, key.WorkspaceID)
	fmt.Printf("Authorization: Bearer %s\n", credential)
	fmt.Println("Store the credential now; only its bcrypt hash is kept.")
}
