package a2a

// Version is the protocol/build version reported by GET /api/a2a/status.
const Version = "0.4.2"

// APIPrefix is the path prefix all A2A endpoints live under.
const APIPrefix = "/api/a2a"

// Capabilities advertised by GET /api/a2a/status.
var Capabilities = []string{"invoke", "end", "multi_turn", "collab_state"}
