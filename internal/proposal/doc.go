// Package proposal builds wallet send-calls payloads. The agent never signs
// or broadcasts transactions itself; it proposes calls and the recipient's
// wallet decides whether to execute them.
package proposal
