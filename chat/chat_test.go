package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

type stubAuth struct {
	valid bool
	calls int
}

func (a *stubAuth) EnsureValid(ctx context.Context) bool {
	a.calls++
	return a.valid
}

type stubPoints struct {
	points int64
	err    error
}

func (p *stubPoints) GetPoints(ctx context.Context, username string) (int64, error) {
	return p.points, p.err
}

func newTestBot(auth Authorizer, points PointsSource, replies *[]string) *Bot {
	b := &Bot{
		username: "relaxbot",
		channel:  "somechannel",
		prefix:   "!",
		auth:     auth,
		points:   points,
		ctx:      context.Background(),
	}
	b.say = func(text string) { *replies = append(*replies, text) }
	return b
}

func privMsg(user, text string) twitch.PrivateMessage {
	return twitch.PrivateMessage{
		User:    twitch.User{Name: user},
		Message: text,
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		message string
		want    string
		ok      bool
	}{
		{"!balance", "balance", true},
		{"!BALANCE", "balance", true},
		{"  !balance  extra args ", "balance", true},
		{"balance", "", false},
		{"!", "", false},
		{"hello there", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseCommand("!", tt.message)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseCommand(%q) = (%q, %v), want (%q, %v)", tt.message, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBalanceCommand(t *testing.T) {
	var replies []string
	auth := &stubAuth{valid: true}
	bot := newTestBot(auth, &stubPoints{points: 120}, &replies)

	bot.handleMessage(privMsg("alice", "!balance"))

	if auth.calls != 1 {
		t.Errorf("EnsureValid calls = %d, want 1", auth.calls)
	}
	if len(replies) != 1 || replies[0] != "@alice, you have 120 tokens." {
		t.Errorf("replies = %v", replies)
	}
}

func TestBalanceCommandZeroIsNotAnError(t *testing.T) {
	var replies []string
	bot := newTestBot(&stubAuth{valid: true}, &stubPoints{points: 0}, &replies)

	bot.handleMessage(privMsg("bob", "!balance"))

	if len(replies) != 1 || replies[0] != "@bob, you have 0 tokens." {
		t.Errorf("zero balance should read as a balance, got %v", replies)
	}
}

func TestBalanceCommandLookupFailure(t *testing.T) {
	var replies []string
	bot := newTestBot(&stubAuth{valid: true}, &stubPoints{err: errors.New("sheet unreachable")}, &replies)

	bot.handleMessage(privMsg("carol", "!balance"))

	if len(replies) != 1 || replies[0] != "Error retrieving tokens for @carol." {
		t.Errorf("replies = %v", replies)
	}
}

func TestBalanceCommandDegradedAuth(t *testing.T) {
	var replies []string
	points := &stubPoints{points: 99}
	bot := newTestBot(&stubAuth{valid: false}, points, &replies)

	bot.handleMessage(privMsg("dave", "!balance"))

	if len(replies) != 1 || replies[0] != "Access token expired. Please contact the bot owner." {
		t.Errorf("replies = %v", replies)
	}
}

func TestBalanceCommandNilLedger(t *testing.T) {
	var replies []string
	bot := newTestBot(&stubAuth{valid: true}, nil, &replies)

	bot.handleMessage(privMsg("erin", "!balance"))

	if len(replies) != 1 || replies[0] != "Error retrieving tokens for @erin." {
		t.Errorf("replies = %v", replies)
	}
}

func TestNonCommandIgnored(t *testing.T) {
	var replies []string
	auth := &stubAuth{valid: true}
	bot := newTestBot(auth, &stubPoints{}, &replies)

	bot.handleMessage(privMsg("alice", "just chatting"))
	bot.handleMessage(privMsg("alice", "!unknown"))

	if len(replies) != 0 {
		t.Errorf("replies = %v, want none", replies)
	}
	if auth.calls != 0 {
		t.Errorf("EnsureValid calls = %d, want 0 for non-balance traffic", auth.calls)
	}
}

func TestOwnMessagesIgnored(t *testing.T) {
	var replies []string
	auth := &stubAuth{valid: true}
	bot := newTestBot(auth, &stubPoints{}, &replies)

	bot.handleMessage(privMsg("relaxbot", "!balance"))

	if len(replies) != 0 || auth.calls != 0 {
		t.Errorf("own messages must not trigger commands: replies=%v calls=%d", replies, auth.calls)
	}
}

func TestRunReturnsNilOnShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(io.Discard, c)
			}(conn)
		}
	}()

	bot := New("relaxbot", "somechannel", "tok", "!", &stubAuth{valid: true}, nil)
	bot.client.IrcAddress = ln.Addr().String()
	bot.client.TLS = false

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- bot.Run(ctx) }()

	// Let the connection establish, then shut down; the disconnect error
	// Connect returns must not surface as a bot failure.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() during shutdown = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
