// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// RateLimitWindow is the sliding window over which inbound WebSocket
	// frames are counted per connection.
	RateLimitWindow = time.Minute
	// RateLimitMessages is the max number of inbound frames allowed per
	// connection within RateLimitWindow.
	RateLimitMessages = 60
)
