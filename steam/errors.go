package steam

import "errors"

// Error taxonomy for scraper outcomes. The import engine maps these onto
// session-level behavior: transient and rate-limited errors are retried here,
// auth errors abort the whole session, parse and not-found errors skip the
// current item.
var (
	// ErrTransient covers network failures and 5xx responses after retries
	ErrTransient = errors.New("steam: transient network error")
	// ErrRateLimited is surfaced when 429 responses persist through backoff
	ErrRateLimited = errors.New("steam: rate limited")
	// ErrAuthRequired means Steam redirected to the login page
	ErrAuthRequired = errors.New("steam: authentication required")
	// ErrNotFound is a 404 for a single resource
	ErrNotFound = errors.New("steam: not found")
	// ErrParse means the page lacked the expected markup
	ErrParse = errors.New("steam: unexpected page markup")
)
