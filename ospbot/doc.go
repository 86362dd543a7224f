// Package ospbot implements a prefix-command Discord bot.
//
// Incoming messages pass through a Router, which enforces maintenance mode
// and rewrites owner messages while no-prefix mode is on. Routed messages
// are dispatched to commands provided by cogs, which are loaded at startup
// or, for cogs named in DelayedLoadCogs, after the first gateway ready
// event.
//
// Main components:
//
//   - OSPBot: owns the gateway session, database, command table and cogs.
//   - Router: message gating and prefix handling.
//   - cogLoader: loads cogs and records a CogLoadReport per load phase.
//   - errorReporter: posts unhandled command errors to the error channel,
//     as a traceback.txt attachment when too long for a message.
//   - Database: the userinfo table, backed by sqlite or postgres.
//   - API: an optional admin HTTP API for state and cog inspection.
//
// Default cogs:
//
//   - owner: maintenance, noprefix, cogs, activity, ping.
//   - test: text animations, each with a per-channel cooldown.
//   - birthday: per-user birthdates, listed and announced daily when a
//     birthday channel is configured.
package ospbot
