package api

import "time"

const (
	defaultBodyLimit   = "1M"
	healthProbeTimeout = 2 * time.Second

	headerRequestID = "X-Request-ID"

	// identityKey holds the auth.Identity of an authenticated request
	identityKey = "identity"
	// tokenKey holds the raw bearer or cookie token
	tokenKey = "auth_token"

	sessionCookieName = "readerstudy_session"
	sessionTokenValue = "token"

	loginBurst          = 5
	limiterIdleTTL      = 15 * time.Minute
	limiterPruneTrigger = 1024
)
