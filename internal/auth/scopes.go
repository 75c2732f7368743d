package auth

// Known OAuth scopes used by the service.
const (
	// ScopeMeetingsWrite allows posting meeting lifecycle events.
	ScopeMeetingsWrite = "meetings:write"
	// ScopeActivitiesRead allows subscribing to the live activity stream.
	ScopeActivitiesRead = "activities:read"
)
