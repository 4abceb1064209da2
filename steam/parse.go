package steam

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Steam Community markup is stable enough that targeted regexps beat a full
// DOM parse. Each pattern anchors on a class or attribute Steam has kept for
// years.
var (
	personaNameRe = regexp.MustCompile(`<span class="actual_persona_name">([^<]+)</span>`)
	avatarRe      = regexp.MustCompile(`(?s)class="playerAvatarAutoSizeInner"[^>]*>.*?<img[^>]*src="([^"]+)"`)
	errorPageRe   = regexp.MustCompile(`class="error_ctn"`)
	privateInfoRe = regexp.MustCompile(`class="profile_private_info"`)

	gameFilterRe = regexp.MustCompile(`(?s)<a[^>]*class="[^"]*screenshot_filter_app[^"]*"[^>]*data-appid="(\d+)"[^>]*>(.*?)</a>`)
	filterNameRe = regexp.MustCompile(`<span class="screenshot_filter_app_name">([^<]*)</span>`)
	filterCntRe  = regexp.MustCompile(`<span class="screenshot_filter_app_count">([\d,]+)</span>`)

	gridItemRe  = regexp.MustCompile(`(?s)<a[^>]*href="([^"]*sharedfiles/filedetails/\?id=(\d+)[^"]*)"[^>]*class="[^"]*profile_media_item[^"]*"[^>]*>(.*?)</a>`)
	gridThumbRe = regexp.MustCompile(`<img[^>]*src="([^"]+)"`)

	detailImageRe = regexp.MustCompile(`(?s)<div class="actualmediactn">\s*<a[^>]*href="([^"]+)"`)
	detailDescRe  = regexp.MustCompile(`(?s)<div class="screenshotDescription">(.*?)</div>`)
	detailDateRe  = regexp.MustCompile(`<div class="detailsStatRight">([^<]*(?:@|,)[^<]*\d[^<]*)</div>`)

	matureGateRe = regexp.MustCompile(`(?:id="age_gate"|class="agegate_birthday_selector"|ViewProductPage)`)
	tagStripRe   = regexp.MustCompile(`<[^>]+>`)
)

// parseProfile extracts the persona name and avatar from a profile page
func parseProfile(body string) (*Profile, error) {
	if errorPageRe.MatchString(body) {
		return nil, ErrNotFound
	}
	if privateInfoRe.MatchString(body) {
		return nil, fmt.Errorf("%w: profile is private", ErrAuthRequired)
	}
	m := personaNameRe.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w: persona name not found", ErrParse)
	}
	p := &Profile{ProfileName: html.UnescapeString(strings.TrimSpace(m[1]))}
	if am := avatarRe.FindStringSubmatch(body); am != nil {
		p.AvatarURL = am[1]
	}
	return p, nil
}

// parseGameFilter extracts the per-game app filter from a screenshots page
func parseGameFilter(body string) ([]GameListing, error) {
	if errorPageRe.MatchString(body) {
		return nil, ErrNotFound
	}
	matches := gameFilterRe.FindAllStringSubmatch(body, -1)
	games := make([]GameListing, 0, len(matches))
	for _, m := range matches {
		appID, err := strconv.Atoi(m[1])
		if err != nil || appID == 0 {
			continue
		}
		g := GameListing{AppID: appID}
		if nm := filterNameRe.FindStringSubmatch(m[2]); nm != nil {
			g.Name = html.UnescapeString(strings.TrimSpace(nm[1]))
		}
		if g.Name == "" {
			g.Name = fmt.Sprintf("App %d", appID)
		}
		if cm := filterCntRe.FindStringSubmatch(m[2]); cm != nil {
			g.ScreenshotCount, _ = strconv.Atoi(strings.ReplaceAll(cm[1], ",", ""))
		}
		games = append(games, g)
	}
	return games, nil
}

// parseScreenshotGrid extracts screenshot references from one grid page.
// The full-size URL is the thumbnail URL with its resize query stripped.
func parseScreenshotGrid(body string) ([]ScreenshotRef, error) {
	matches := gridItemRe.FindAllStringSubmatch(body, -1)
	refs := make([]ScreenshotRef, 0, len(matches))
	for _, m := range matches {
		ref := ScreenshotRef{
			DetailURL: html.UnescapeString(m[1]),
			SteamID:   m[2],
		}
		if tm := gridThumbRe.FindStringSubmatch(m[3]); tm != nil {
			ref.ThumbURL = html.UnescapeString(tm[1])
			ref.FullImageURL = stripQuery(ref.ThumbURL)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// parseScreenshotDetail fills description, capture time and, when still
// missing, the full image URL from a detail page
func parseScreenshotDetail(body string, ref *ScreenshotRef) error {
	if m := detailImageRe.FindStringSubmatch(body); m != nil {
		ref.FullImageURL = html.UnescapeString(m[1])
	}
	if ref.FullImageURL == "" {
		return fmt.Errorf("%w: full image url not found for screenshot %s", ErrParse, ref.SteamID)
	}
	if m := detailDescRe.FindStringSubmatch(body); m != nil {
		ref.Description = html.UnescapeString(strings.TrimSpace(tagStripRe.ReplaceAllString(m[1], "")))
	}
	if m := detailDateRe.FindStringSubmatch(body); m != nil {
		if t, err := ParseSteamDate(m[1]); err == nil {
			ref.TakenAt = &t
		}
	}
	return nil
}

func isMatureGate(body string) bool {
	return matureGateRe.MatchString(body)
}

func stripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// steamDateLayouts covers the formats the community site emits. Entries
// without a year mean the current year.
var steamDateLayouts = []string{
	"Jan 2, 2006 @ 3:04pm",
	"2 Jan, 2006 @ 3:04pm",
	"Jan 2, 2006 @ 3:04 pm",
	"2 Jan, 2006 @ 3:04 pm",
	"Jan 2 @ 3:04pm",
	"2 Jan @ 3:04pm",
}

// ParseSteamDate parses a community site timestamp like "Jun 5, 2023 @
// 4:12pm". Dates within the current year omit the year.
func ParseSteamDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range steamDateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			now := time.Now().UTC()
			t = t.AddDate(now.Year(), 0, 0)
			if t.After(now) {
				t = t.AddDate(-1, 0, 0)
			}
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", ErrParse, s)
}
