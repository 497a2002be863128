// Package a2a provides a peer-to-peer agent-to-agent calling runtime.
//
// An A2A node is a long-lived server that accepts scoped, token-authenticated
// HTTP invocations from other agents, routes them into a locally-configured
// agent runtime, keeps multi-turn conversation state across calls, and
// produces structured, owner-visible summaries when calls conclude. The same
// module contains the outbound side: a conversation driver that calls a
// remote peer through the identical HTTP protocol.
//
// # Quick Start
//
// Load configuration from the environment and start a server:
//
//	cfg, err := a2a.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	agent := runtime.NewAdapter(cfg, log)
//	srv := server.New(cfg, tokens, conversations, agent, calls, log)
//	if err := srv.ListenAndServe(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Issue an invite token and hand the returned a2a:// URI to a peer:
//
//	wire, rec, _ := tokens.Create(tokenstore.Spec{Name: "alice", Tier: a2a.TierFriends})
//	uri := a2a.InviteURI("my-host.example.com", wire)
//
// The peer calls back with:
//
//	POST /api/a2a/invoke
//	Authorization: Bearer fed_…
//	{"message": "hi", "caller": {"name": "Alice"}}
//
// # Packages
//
//   - tokenstore: bearer token lifecycle (issue, validate, meter, revoke)
//   - convstore: durable conversations and messages (sqlite)
//   - logstore: structured, trace-correlated event log (sqlite)
//   - runtime: the agent-brain adapter with deterministic failover
//   - collab: the collaboration-state block codec
//   - monitor: background conclusion of idle calls
//   - maintenance: scheduled message compression and token sweeps
//   - server: the inbound HTTP pipeline
//   - outbound: the client and multi-turn conversation driver
package a2a
