// Package web3 houses blockchain connectivity utilities, including RPC
// client abstractions, minimal ERC-20 contract bindings, amount unit
// conversion helpers, and multi-chain configuration loading. It enables the
// agent to read native and token balances and to encode transfer calldata
// for payment proposals on supported EVM networks such as Base.
package web3
