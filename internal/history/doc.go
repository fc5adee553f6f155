// Package history persists per-turn message trails. Each turn gets a fresh
// key; backends include an in-process store for tests and single instances,
// and a Redis store for shared deployments.
package history
