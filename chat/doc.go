// Package chat contains the Twitch IRC bot and its command handling.
//
// The Bot joins a single channel and answers prefix commands, currently just
// !balance, which reports a viewer's token balance from the points ledger.
// Before answering, every command funnels through the token lifecycle
// manager's ensure-valid check, so a command arriving with a near-expired
// credential triggers the same refresh path as the background scheduler.
//
// The Bot also implements the manager's TokenSink: after each successful
// refresh the new access token is pushed into the IRC client via
// SetIRCToken, keeping reconnects authenticated without a restart.
package chat
