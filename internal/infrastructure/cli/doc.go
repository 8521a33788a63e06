// Package cli defines the notebook command line: serve, run, export,
// import and the hidden sandbox worker.
package cli
