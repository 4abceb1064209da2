// Package steam fetches and parses Steam Community profile and screenshot
// pages. Steam exposes no API for another user's screenshot library, so this
// is plain authenticated HTML scraping with regexp extraction.
package steam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gamevault/gamevault/ratelimit"
)

const (
	communityBase = "https://steamcommunity.com"
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxAttempts    = 5
	retryBase      = 500 * time.Millisecond
	retryCap       = 8 * time.Second
	maxPages       = 200
	maxImageBytes  = 64 << 20
	connectTimeout = 10 * time.Second
	totalTimeout   = 60 * time.Second
)

// Credentials identify a Steam user and carry the session cookies needed to
// see private screenshots. Cookies may be empty for public profiles.
type Credentials struct {
	UserID           string
	SteamLoginSecure string
	SessionID        string
	IsNumericID      bool
}

// Profile holds the details scraped from a profile page
type Profile struct {
	ProfileName string
	AvatarURL   string
}

// GameListing is one game from the screenshots page app filter
type GameListing struct {
	AppID           int
	Name            string
	ScreenshotCount int
}

// ScreenshotRef is one screenshot discovered in the grid, enriched from its
// detail page before download
type ScreenshotRef struct {
	SteamID      string
	DetailURL    string
	ThumbURL     string
	FullImageURL string
	Description  string
	TakenAt      *time.Time
}

// Scraper performs rate-limited, retried HTTP fetches against Steam Community
type Scraper struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	baseURL string
}

// NewScraper creates a scraper sharing the given limiter across all sessions
func NewScraper(limiter *ratelimit.Limiter) *Scraper {
	return &Scraper{
		client: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSHandshakeTimeout:   connectTimeout,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		limiter: limiter,
		baseURL: communityBase,
	}
}

// NewScraperWithBase is used by tests to point the scraper at a local server
func NewScraperWithBase(limiter *ratelimit.Limiter, base string) *Scraper {
	s := NewScraper(limiter)
	s.baseURL = strings.TrimRight(base, "/")
	return s
}

func (s *Scraper) profileURL(creds Credentials) string {
	if creds.IsNumericID {
		return s.baseURL + "/profiles/" + url.PathEscape(creds.UserID)
	}
	return s.baseURL + "/id/" + url.PathEscape(creds.UserID)
}

// ValidateProfile fetches the profile page and confirms it exists and is
// reachable with the supplied cookies
func (s *Scraper) ValidateProfile(ctx context.Context, creds Credentials) (*Profile, error) {
	body, err := s.fetchPage(ctx, creds, s.profileURL(creds))
	if err != nil {
		return nil, err
	}
	return parseProfile(body)
}

// DiscoverGames scrapes the screenshots page app filter for the list of games
// that have screenshots
func (s *Scraper) DiscoverGames(ctx context.Context, creds Credentials) ([]GameListing, error) {
	pageURL := s.profileURL(creds) + "/screenshots/?appid=0&sort=newestfirst&browsefilter=myfiles&view=grid&privacy=14"
	body, err := s.fetchPage(ctx, creds, pageURL)
	if err != nil {
		return nil, err
	}
	return parseGameFilter(body)
}

// EnumerateScreenshots walks the paginated grid for one game and returns every
// screenshot reference in page order (newest first). Enumeration stops when a
// page yields no new ids: Steam serves the last page again for out-of-range
// page numbers.
func (s *Scraper) EnumerateScreenshots(ctx context.Context, creds Credentials, appID int) ([]ScreenshotRef, error) {
	seen := make(map[string]bool)
	var refs []ScreenshotRef

	for page := 1; page <= maxPages; page++ {
		pageURL := fmt.Sprintf("%s/screenshots/?appid=%d&sort=newestfirst&browsefilter=myfiles&view=grid&privacy=14&p=%d",
			s.profileURL(creds), appID, page)
		body, err := s.fetchPage(ctx, creds, pageURL)
		if err != nil {
			return nil, err
		}
		pageRefs, err := parseScreenshotGrid(body)
		if err != nil {
			return nil, err
		}

		added := 0
		for _, ref := range pageRefs {
			if seen[ref.SteamID] {
				continue
			}
			seen[ref.SteamID] = true
			refs = append(refs, ref)
			added++
		}
		if added == 0 {
			break
		}
	}
	return refs, nil
}

// FetchScreenshotDetail loads a screenshot's detail page and fills in the full
// image URL, description and capture time. The full-size URL normally derives
// from the grid thumbnail by stripping its resize query, so the detail page is
// the fallback source plus the only place descriptions and dates live.
func (s *Scraper) FetchScreenshotDetail(ctx context.Context, creds Credentials, ref *ScreenshotRef) error {
	body, err := s.fetchPage(ctx, creds, ref.DetailURL)
	if err != nil {
		return err
	}
	return parseScreenshotDetail(body, ref)
}

// DownloadImage fetches the full-size screenshot bytes
func (s *Scraper) DownloadImage(ctx context.Context, creds Credentials, imageURL string) ([]byte, error) {
	resp, err := s.doRequest(ctx, creds, imageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading image body: %v", ErrTransient, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image response", ErrTransient)
	}
	return data, nil
}

// fetchPage performs a GET and returns the body as a string, replaying through
// the mature-content interstitial when Steam serves one despite the age
// bypass cookies.
func (s *Scraper) fetchPage(ctx context.Context, creds Credentials, pageURL string) (string, error) {
	resp, err := s.doRequest(ctx, creds, pageURL)
	if err != nil {
		return "", err
	}
	body, err := readBody(resp)
	if err != nil {
		return "", err
	}

	if isMatureGate(body) {
		log.Printf("Steam served mature content gate for %s, replaying with bypass", pageURL)
		bypassURL, err := matureBypassURL(pageURL, creds.SessionID)
		if err != nil {
			return "", err
		}
		resp, err = s.doRequest(ctx, creds, bypassURL)
		if err != nil {
			return "", err
		}
		body, err = readBody(resp)
		if err != nil {
			return "", err
		}
		if isMatureGate(body) {
			return "", fmt.Errorf("%w: mature content gate not bypassed", ErrParse)
		}
	}
	return body, nil
}

// doRequest issues one rate-limited GET with retries. Retryable failures are
// network errors, 5xx and 429; 429 additionally inflates the shared limiter.
func (s *Scraper) doRequest(ctx context.Context, creds Credentials, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBase << (attempt - 1)
			if delay > retryCap {
				delay = retryCap
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		s.setHeaders(req, creds)

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", ErrTransient, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if isLoginRedirect(resp) {
				resp.Body.Close()
				return nil, ErrAuthRequired
			}
			s.limiter.Success()
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			s.limiter.Backoff()
			lastErr = ErrRateLimited
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrAuthRequired
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: unexpected status %d", ErrParse, resp.StatusCode)
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

// setHeaders attaches the browser user agent plus session and age bypass
// cookies. birthtime/lastagecheckage/mature_content suppress most age gates
// up front.
func (s *Scraper) setHeaders(req *http.Request, creds Credentials) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	if creds.SteamLoginSecure != "" {
		req.AddCookie(&http.Cookie{Name: "steamLoginSecure", Value: creds.SteamLoginSecure})
	}
	if creds.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: creds.SessionID})
	}
	req.AddCookie(&http.Cookie{Name: "birthtime", Value: "0"})
	req.AddCookie(&http.Cookie{Name: "lastagecheckage", Value: "1-0-1990"})
	req.AddCookie(&http.Cookie{Name: "mature_content", Value: "1"})
}

// isLoginRedirect detects that Steam bounced the request to the login page,
// which it does with 200s after following redirects
func isLoginRedirect(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	return strings.Contains(resp.Request.URL.Path, "/login")
}

// matureBypassURL appends the "view anyway" form parameters to a gated URL
func matureBypassURL(pageURL, sessionID string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: bad page url: %v", ErrParse, err)
	}
	q := u.Query()
	q.Set("ags", "1")
	if sessionID != "" {
		q.Set("sessionid", sessionID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response body: %v", ErrTransient, err)
	}
	return string(data), nil
}

// IsTransient reports whether the error is worth retrying at a higher level
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
