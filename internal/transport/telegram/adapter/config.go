package adapter

import "time"

type Config struct {
	Token string
	// APIURL overrides the Bot API base (tests, local bot-api servers).
	APIURL string
	// Offline skips the getMe handshake on construction.
	Offline bool
	// HTTPTimeout bounds a single Bot API call. Documents need the long one.
	HTTPTimeout time.Duration
}
