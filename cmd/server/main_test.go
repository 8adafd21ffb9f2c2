package main

import (
	"context"
	"testing"
	"time"

	"onesmart/inventory/internal/config"
	"onesmart/inventory/internal/server"
)

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := issueToken(&config.Config{}, "terminal-1", time.Hour)
	if err == nil {
		t.Fatalf("expected token issuing without a secret to be rejected")
	}
}

func TestIssuedTokenVerifies(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{AuthSecret: "0123456789abcdef0123456789abcdef"}}
	token, err := issueToken(cfg, "terminal-1", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	subject, err := server.NewAuthenticator(cfg.Server.AuthSecret).ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if subject != "terminal-1" {
		t.Fatalf("expected subject terminal-1, got %q", subject)
	}
}

func TestOpenRepositoryMemoryIsSeeded(t *testing.T) {
	repo, err := openRepository(context.Background(), config.ServerConfig{Repository: "memory"})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	products, err := repo.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("expected seeded demo catalog")
	}
}

func TestOpenRepositoryRejectsUnknownDriver(t *testing.T) {
	if _, err := openRepository(context.Background(), config.ServerConfig{Repository: "cassandra"}); err == nil {
		t.Fatalf("expected unknown repository to be rejected")
	}
}
