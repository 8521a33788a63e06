// Package server wires configuration, logging, metrics, the sandbox,
// storage and the notebook into a runnable HTTP server.
package server
