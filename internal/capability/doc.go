// Package capability defines the tools the agent can call. Capabilities
// come in two effect classes: pure capabilities read information and feed
// the result back to the model, proposal capabilities deliver wallet
// send-calls to the conversation and terminate the turn. Direct messages
// and group chats get different registries; the group set adds member-wide
// balance reads and split payments.
package capability
