// Package config provides 12-factor configuration management for the notebook.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Sandbox: Isolation mode, execution timeout, call stack limit
//   - Notebook: SQLite path, record key, autosave debounce, welcome code
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - SANDBOX_ISOLATION, SANDBOX_WORKER_PATH, EXECUTION_TIMEOUT, SANDBOX_MAX_CALL_STACK
//   - NOTEBOOK_DB, NOTEBOOK_KEY, AUTOSAVE_DEBOUNCE, NOTEBOOK_WELCOME
package config
