/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the notebook
service, tracking HTTP requests, cell executions, autosaves and WebSocket
connections. Each Metrics value owns a private registry.

# Features

- HTTP request metrics (latency, throughput, size)
- Execution metrics (outcome by reason, wall time, live sandboxes)
- Console event counts by method
- Autosave results and write latency
- WebSocket connection metrics
- Process and Go runtime collectors

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Observe executions and autosaves
	host := execution.NewHost(spawner, execution.WithObserver(metrics))
	saver := persistence.NewAutosaver(adapter, logger, persistence.WithSaveObserver(metrics))

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
