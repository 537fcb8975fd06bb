package session

// RetryPolicy bounds how many forced re-logins a fetch may attempt after
// the tracker reports an expired session.
type RetryPolicy struct {
	MaxRelogins int
}

// Allow reports whether attempt (zero-based) may run.
func (p RetryPolicy) Allow(attempt int) bool {
	return attempt <= p.MaxRelogins
}
