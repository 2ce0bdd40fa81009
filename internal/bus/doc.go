// Package bus carries messages between chat channels and the agent.
//
// Channels publish [InboundMessage] values and the agent consumes them; the
// agent publishes [OutboundMessage] replies and the gateway routes them back to
// the originating channel.
//
// Two implementations exist:
//
//   - [MemoryBus]: buffered Go channels, for a single process.
//   - [NATSBus]: NATS core subjects. Inbound messages are consumed through a
//     queue group so each is processed once; outbound replies reach every
//     gateway so whichever one holds the browser connection can deliver it.
package bus
