// Package gateway wires the chatgate components together and runs them.
//
// # Components
//
// [New] builds, from a [config.Config]:
//
//   - the session store (SQL database, optionally fronted by the session cache)
//   - the message bus (in-process, or NATS subjects shared by several gateways)
//   - the provider dispatcher for the configured model backend
//   - the agent loop consuming inbound messages
//   - the connection registry and the web channel serving the chat UI
//
// # Message Flow
//
//	browser --ws--> web.Channel --inbound--> bus --> agent.Loop --> provider
//	browser <--ws-- web.Channel <--outbound-- bus <-- agent.Loop
//
// The outbound pump delivers each reply to every connection viewing the
// reply's session.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// When ctx is canceled Run stops the HTTP listener, closes browser
// connections with 1001, closes the bus, waits for the agent loop and closes
// the store, all within five seconds. A connection whose handshake races the
// shutdown is also closed with 1001.
//
// With tailscale.enabled the HTTP server listens on port 80 of a tsnet node
// instead of server.http_addr.
package gateway
