// Command storecheck verifies that the configured document store credentials
// work and reports how many users the users document holds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/rowcoach/rowcoach-go/internal/config"
	"github.com/rowcoach/rowcoach-go/internal/docstore"
	"github.com/rowcoach/rowcoach-go/internal/model"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	key := flag.String("key", cfg.DocstoreMasterKey, "document store master key")
	bin := flag.String("bin", cfg.DocstoreBinID, "document store bin id")
	timeout := flag.Duration("timeout", cfg.DocstoreTimeout, "request timeout")
	flag.Parse()

	if err := run(*bin, *key, cfg.DocstoreBaseURL, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}
}

func run(bin, key, baseURL string, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", timeout)
	}

	client, err := docstore.New(baseURL, bin, key)
	if err != nil {
		return err
	}

	fmt.Printf("bin:  %s\n", bin)
	fmt.Printf("key:  %s\n", mask(key))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var doc model.UsersDocument
	etag, err := client.Get(ctx, &doc)
	if err != nil {
		return err
	}

	fmt.Printf("ok:   %d users, revision %d", len(doc.Users), doc.Revision)
	if etag != "" {
		fmt.Printf(", etag %s", etag)
	}
	fmt.Println()
	return nil
}

func mask(key string) string {
	if len(key) <= 10 {
		return "***"
	}
	return key[:10] + "..."
}
