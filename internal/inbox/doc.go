// Package inbox consumes the inbound message stream and drives one agent
// turn per message, including the group mention gate and turn archiving.
package inbox
