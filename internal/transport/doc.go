// Package transport abstracts the messaging network the agent lives on.
// A Client syncs state, streams inbound events, and resolves conversations;
// a Conversation sends text replies and wallet send-calls proposals. The
// in-memory implementation backs tests and local runs, the AMQP
// implementation bridges to RabbitMQ for production feeds.
package transport
