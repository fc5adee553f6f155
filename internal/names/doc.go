// Package names implements ENS compatible name resolution for payment
// recipients. It computes namehash and ENSIP-19 reverse nodes locally and
// reads registry, resolver, and reverse resolver contracts through the
// chain client, so the agent can accept basenames such as alice.base.eth
// wherever an address is expected.
package names
