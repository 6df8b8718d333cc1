package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/relaxbot/telemetry"
)

// PointsSource answers balance lookups. A nil source (ledger unavailable at
// startup) makes every balance query answer the generic error line.
type PointsSource interface {
	GetPoints(ctx context.Context, username string) (int64, error)
}

// Authorizer is the token lifecycle manager's ensure-valid surface.
type Authorizer interface {
	EnsureValid(ctx context.Context) bool
}

const commandTimeout = 30 * time.Second

// Bot is the IRC connection plus command dispatch for one channel.
type Bot struct {
	client   *twitch.Client
	username string
	channel  string
	prefix   string
	auth     Authorizer
	points   PointsSource

	ctx context.Context
	say func(text string)
}

// New builds the bot with the current access token. The token is refreshed
// in place later via UpdateLiveToken; New does not connect.
func New(username, channel, accessToken, prefix string, auth Authorizer, points PointsSource) *Bot {
	client := twitch.NewClient(username, "oauth:"+accessToken)
	b := &Bot{
		client:   client,
		username: username,
		channel:  channel,
		prefix:   prefix,
		auth:     auth,
		points:   points,
		ctx:      context.Background(),
	}
	b.say = func(text string) { client.Say(channel, text) }
	client.OnConnect(func() {
		slog.Info("bot connected", slog.String("channel", channel), slog.String("as", username))
		b.say("Bot is online!")
	})
	client.OnPrivateMessage(b.handleMessage)
	return b
}

// UpdateLiveToken swaps the IRC credential after a refresh so future
// (re)connects authenticate with the new access token.
func (b *Bot) UpdateLiveToken(token string) {
	b.client.SetIRCToken("oauth:" + token)
}

// Run joins the channel and connects, blocking until ctx is cancelled or the
// connection errors out.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := b.client.Disconnect(); err != nil {
			slog.Warn("twitch chat disconnect error", slog.Any("err", err))
		}
		close(done)
	}()

	b.client.Join(b.channel)
	err := b.client.Connect()
	if ctx.Err() != nil {
		// Shutdown in progress: Connect returning the disconnect error is
		// expected, not a failure.
		<-done
		return nil
	}
	if err != nil {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	return nil
}

func (b *Bot) handleMessage(msg twitch.PrivateMessage) {
	if strings.EqualFold(msg.User.Name, b.username) {
		// ignore our own messages
		return
	}
	name, ok := parseCommand(b.prefix, msg.Message)
	if !ok {
		return
	}
	telemetry.CountCommand()
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	switch name {
	case "balance":
		b.handleBalance(ctx, msg.User.Name)
	}
}

func (b *Bot) handleBalance(ctx context.Context, user string) {
	ctx, span := telemetry.StartSpan(ctx, "chat.balance")
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	if !b.auth.EnsureValid(ctx) {
		b.say("Access token expired. Please contact the bot owner.")
		return
	}
	if b.points == nil {
		slog.Error("points ledger not initialized")
		b.say(balanceReply(user, 0, fmt.Errorf("ledger unavailable")))
		return
	}
	points, err := b.points.GetPoints(ctx, user)
	telemetry.CountBalanceLookup(err == nil)
	if err != nil {
		spanErr = err
		telemetry.LoggerWithCorr(ctx).Error("balance lookup failed", slog.String("user", user), slog.Any("err", err))
	}
	b.say(balanceReply(user, points, err))
}

// balanceReply builds the chat response for a balance query. A zero balance
// is a real answer and reads as one; only a failed lookup gets the error line.
func balanceReply(user string, points int64, lookupErr error) string {
	if lookupErr != nil {
		return fmt.Sprintf("Error retrieving tokens for @%s.", user)
	}
	return fmt.Sprintf("@%s, you have %d tokens.", user, points)
}

// parseCommand extracts the command name from a chat line: "!balance hi"
// yields ("balance", true). Lines without the prefix are not commands.
func parseCommand(prefix, message string) (string, bool) {
	message = strings.TrimSpace(message)
	if prefix == "" || !strings.HasPrefix(message, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(message, prefix)
	fields := strings.Fields(rest)
	if len(fields) == 0 || fields[0] == "" {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}
