package config

// ResolveWebSocketPort implements the documented precedence for the
// WebSocket listen port: an explicit CLI flag wins, then the config
// file's websocket_port, then DefaultWebSocketPort. cliPort is 0 when the
// flag was not passed.
func ResolveWebSocketPort(cliPort int, cfg *Config) int {
	if cliPort != 0 {
		return cliPort
	}
	if cfg != nil && cfg.WebSocketPort != 0 {
		return cfg.WebSocketPort
	}
	return DefaultWebSocketPort
}
