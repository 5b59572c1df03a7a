package server

// Action endpoints are part of the gateway's wire contract: forms, emailed
// confirmation links and browser scripts all point at them, so they stay at
// fixed paths. Only page locations (login page, error page, protected
// prefix) move with configuration.
const (
	LoginActionPath    = "/auth/login"
	SignupActionPath   = "/auth/signup"
	LogoutActionPath   = "/auth/logout"
	ProviderActionPath = "/auth/signin"
	CallbackPath       = "/auth/callback"
	ConfirmPath        = "/auth/confirm"
	SessionPath        = "/auth/session"
	EventsPath         = "/auth/events"
)
