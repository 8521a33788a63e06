/*
Package sandbox provides isolated JavaScript execution contexts for notebook cells.

# Overview

Every cell run gets a brand new context built on the goja JavaScript engine.
A context shares nothing with the host or with earlier runs: the only way in
or out is a small typed message protocol.

# Protocol

	ready    context -> host   context initialized, code may be sent
	execute  host -> context   {code}
	console  context -> host   {method, args}, one per console call
	error    context -> host   {message, stack}, uncaught failure
	result   context -> host   {success, value | error, executionTime}, terminal

Messages from one context arrive in send order. Exactly one result ends
the run; uncaught failures (throwing timer callbacks, unhandled promise
rejections) are reported as error messages and do not end it.

# Implementations

  - InProcess: a goja VM owned by its own goroutine, interrupted on Close
  - Process: a worker process (the "worker" subcommand) speaking the
    protocol as JSON lines over stdin/stdout, killed on Close

# Security Model

Sandboxed code cannot:
  - Reach require, process, module or exports
  - See state from any other run
  - Outlive its context: Close interrupts the VM or kills the worker

# Usage Example

	spawner := sandbox.NewInProcess(sandbox.DefaultConfig(), logger)

	ctx, err := spawner.Spawn(context.Background())
	if err != nil {
		return err
	}
	defer ctx.Close()

	for msg := range ctx.Messages() {
		if msg.Type == sandbox.MsgReady {
			ctx.Send(sandbox.Execute("console.log('hi'); 42"))
		}
	}
*/
package sandbox
