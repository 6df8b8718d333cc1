// Command relaxbot is the chat bot entrypoint. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Establishes a valid OAuth credential before opening chat (fatal if it
//     cannot), then keeps it fresh with a background refresh scheduler.
//   - Joins the configured Twitch channel and answers the !balance command
//     from the Google Sheets points ledger.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status,
//     /metrics, and the Twitch re-authorization flow.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/relaxbot/chat"
	"github.com/onnwee/relaxbot/config"
	"github.com/onnwee/relaxbot/db"
	"github.com/onnwee/relaxbot/oauth"
	"github.com/onnwee/relaxbot/server"
	"github.com/onnwee/relaxbot/sheets"
	"github.com/onnwee/relaxbot/telemetry"
	"github.com/onnwee/relaxbot/twitchapi"
)

const tokenProvider = "twitch"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("relaxbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to the embedded SQL for
	// deployments predating the schema_migrations table.
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL", slog.Any("err", err))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := &db.CredentialStore{DB: database, Provider: tokenProvider}
	cred, err := store.Load(ctx)
	if err != nil {
		slog.Error("failed to load stored credential", slog.Any("err", err))
		os.Exit(1)
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		// First run: seed the store from the env pair.
		cred = oauth.Credential{AccessToken: cfg.TwitchAccessToken, RefreshToken: cfg.TwitchRefreshToken}
		if cred.RefreshToken == "" {
			slog.Error("no stored credential and no TWITCH_ACCESS_TOKEN/TWITCH_REFRESH_TOKEN seed; authorize via /auth/twitch/start first")
			os.Exit(1)
		}
		if err := store.Save(ctx, cred); err != nil {
			slog.Warn("failed to seed credential store", slog.Any("err", err))
		}
		slog.Info("seeded credential store from environment")
	}

	tc := &twitchapi.Client{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	mgr := oauth.NewManager(cred,
		func(vctx context.Context, accessToken string) (time.Duration, []string, error) {
			res, err := tc.Validate(vctx, accessToken)
			if err != nil {
				return 0, nil, err
			}
			return time.Duration(res.ExpiresIn) * time.Second, res.Scopes, nil
		},
		func(rctx context.Context, refreshToken string) (oauth.Credential, error) {
			res, err := tc.Refresh(rctx, refreshToken)
			if err != nil {
				return oauth.Credential{}, err
			}
			return oauth.Credential{
				AccessToken:  res.AccessToken,
				RefreshToken: res.RefreshToken,
				Expiry:       twitchapi.ComputeExpiry(res.ExpiresIn),
				Scopes:       res.Scope,
			}, nil
		},
		store.Save,
		cfg.RequiredScopes(),
	)

	// A usable credential is required before any chat connection.
	if !mgr.EnsureValid(ctx) {
		slog.Error("failed to establish a valid token at startup; exiting")
		os.Exit(1)
	}
	verifyAppCredentials(ctx, cfg)
	recordBotIdentity(ctx, database, tc, mgr)

	// Points ledger; a failure here degrades balance replies, not the bot.
	var points chat.PointsSource
	if ledger, err := sheets.New(ctx, cfg.SheetCredentialsFile, cfg.SheetID, cfg.SheetRange); err != nil {
		slog.Error("failed to initialize points ledger; balance queries will error", slog.Any("err", err))
	} else {
		points = ledger
	}

	bot := chat.New(cfg.TwitchBotUsername, cfg.TwitchChannel, mgr.Current().AccessToken, cfg.CommandPrefix, mgr, points)
	mgr.SetSink(bot)
	go func() {
		if err := bot.Run(ctx); err != nil {
			slog.Error("chat bot exited with error", slog.Any("err", err))
			stop()
		}
	}()

	oauth.StartScheduler(ctx, mgr, cfg.RefreshInterval)

	go func() {
		h := server.NewHandlers(database, cfg, tc, mgr)
		if err := server.Start(ctx, h, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT (text | json).
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

// verifyAppCredentials fetches an app access token as a startup diagnostic:
// if the client-credentials grant succeeds, a later refresh failure points at
// the user token, not at a bad client id/secret. Best effort.
func verifyAppCredentials(ctx context.Context, cfg *config.Config) {
	ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	vctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if _, err := ts.Get(vctx); err != nil {
		slog.Warn("app credential check failed; verify TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET", slog.Any("err", err))
		return
	}
	slog.Debug("app credentials verified")
}

// recordBotIdentity captures the token's login/user id for /status. Best
// effort: the bot runs fine without it.
func recordBotIdentity(ctx context.Context, database *sql.DB, tc *twitchapi.Client, mgr *oauth.Manager) {
	vctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	res, err := tc.Validate(vctx, mgr.Current().AccessToken)
	if err != nil {
		slog.Warn("could not resolve bot identity", slog.Any("err", err))
		return
	}
	if err := db.SetKV(ctx, database, "bot_login", res.Login); err != nil {
		slog.Warn("failed to record bot identity", slog.Any("err", err))
		return
	}
	_ = db.SetKV(ctx, database, "bot_user_id", res.UserID)
	slog.Info("authenticated", slog.String("login", res.Login), slog.String("user_id", res.UserID))
}
