// Package main provisions a PixelMint tenant: it creates the tenant row,
// grants the signup credit bonus, and mints an admin API key. The raw key is
// printed once and never stored.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint/pixelmint/internal/config"
	"github.com/pixelmint/pixelmint/internal/store"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	name := flag.String("name", "", "tenant name (required)")
	credits := flag.Int64("credits", 10, "signup credits to grant")
	flag.Parse()

	if err := run(*name, *credits); err != nil {
		slog.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(name string, credits int64) error {
	if name == "" {
		return fmt.Errorf("-name is required")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: dbURL})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(dbURL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	st := store.NewPostgresStore(pool)

	now := time.Now().UTC()
	t := &models.Tenant{
		ID:                 uuid.New(),
		Name:               name,
		SubscriptionStatus: models.SubscriptionFree,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := st.CreateTenant(ctx, t); err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}

	scope := tenant.NewScope(t.ID)
	if credits > 0 {
		if _, err := st.Grant(ctx, scope, credits, models.LedgerReasonBonus, "signup credits"); err != nil {
			return fmt.Errorf("grant signup credits: %w", err)
		}
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate key material: %w", err)
	}
	rawKey := "pm_" + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "bootstrap admin key",
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:8],
		Scopes:    []string{"jobs", "admin"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateAPIKey(ctx, scope, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Printf("tenant_id: %s\n", t.ID)
	fmt.Printf("api_key:   %s\n", rawKey)
	return nil
}
