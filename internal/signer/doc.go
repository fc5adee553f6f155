// Package signer provides the agent's signing identity. The production
// implementation delegates to a remote HTTP signing service so private keys
// never enter this process.
package signer
