package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/onnwee/relaxbot/oauth"
)

func TestConnectDSNPrecedence(t *testing.T) {
	// sql.Open does not dial, so this exercises the DSN selection only.
	t.Setenv("DB_DSN", "postgres://fromenv:x@envhost:5432/envdb")

	database, err := Connect("postgres://explicit:x@confighost:5432/cfgdb")
	if err != nil {
		t.Fatalf("Connect(explicit) error = %v", err)
	}
	database.Close()

	database, err = Connect("")
	if err != nil {
		t.Fatalf("Connect(empty) error = %v", err)
	}
	database.Close()
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestUpsertGetOAuthTokenRoundTrip(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	if err := UpsertOAuthToken(ctx, database, "twitch-test", "A1", "R1", expiry, "chat:read chat:edit"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	access, refresh, exp, scope, err := GetOAuthToken(ctx, database, "twitch-test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "A1" || refresh != "R1" {
		t.Errorf("pair = (%s,%s), want (A1,R1)", access, refresh)
	}
	if !exp.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", exp, expiry)
	}
	if scope != "chat:read chat:edit" {
		t.Errorf("scope = %q", scope)
	}

	// Overwrite replaces the whole pair.
	if err := UpsertOAuthToken(ctx, database, "twitch-test", "A2", "R2", expiry, "chat:read"); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	access, refresh, _, _, err = GetOAuthToken(ctx, database, "twitch-test")
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if access != "A2" || refresh != "R2" {
		t.Errorf("pair = (%s,%s), want (A2,R2)", access, refresh)
	}
}

func TestGetOAuthTokenMissingProvider(t *testing.T) {
	database := setupDB(t)
	access, refresh, exp, scope, err := GetOAuthToken(context.Background(), database, "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "" || refresh != "" || scope != "" || !exp.IsZero() {
		t.Errorf("missing provider should return zero values, got (%q,%q,%v,%q)", access, refresh, exp, scope)
	}
}

func TestCredentialStore(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	store := &CredentialStore{DB: database, Provider: "twitch-credstore-test"}

	cred, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if cred.AccessToken != "" || cred.RefreshToken != "" {
		t.Errorf("empty store should load zero credential, got %+v", cred)
	}

	want := oauth.Credential{
		AccessToken:  "A2",
		RefreshToken: "R2",
		Expiry:       time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second),
		Scopes:       []string{"chat:read", "chat:edit"},
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("pair = (%s,%s), want (A2,R2)", got.AccessToken, got.RefreshToken)
	}
	if len(got.Scopes) != 2 || got.Scopes[0] != "chat:read" {
		t.Errorf("scopes = %v", got.Scopes)
	}
}

func TestKV(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	if v, err := GetKV(ctx, database, "absent-key"); err != nil || v != "" {
		t.Errorf("GetKV(absent) = (%q, %v), want (\"\", nil)", v, err)
	}
	if err := SetKV(ctx, database, "bot_login", "relaxbot"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetKV(ctx, database, "bot_login", "relaxbot2"); err != nil {
		t.Fatalf("set overwrite: %v", err)
	}
	v, err := GetKV(ctx, database, "bot_login")
	if err != nil || v != "relaxbot2" {
		t.Errorf("GetKV = (%q, %v), want (relaxbot2, nil)", v, err)
	}
}
