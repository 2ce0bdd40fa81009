// Package agent answers inbound chat messages with the configured model.
//
// [Loop] reads [bus.InboundMessage] values one at a time. For each it loads
// the session history, records the user turn, asks the provider for a reply,
// records the reply and publishes a [bus.OutboundMessage] for the channel to
// deliver. Every inbound message gets exactly one outbound reply; when the
// model call fails the reply carries the error text and nothing is recorded
// for the assistant.
//
// Tool execution is not performed. Tool calls requested by the model are
// ignored and only the text content is returned.
package agent
