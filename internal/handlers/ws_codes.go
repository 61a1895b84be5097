// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the presence socket.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Presence token was invalid or expired.
	ReplacedError         = 3002 // A newer socket for the same player took over.
)
