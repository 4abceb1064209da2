package steam

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return string(data)
}

func TestParseProfile(t *testing.T) {
	profile, err := parseProfile(loadFixture(t, "profile.html"))
	require.NoError(t, err)

	assert.Equal(t, "Gordon & Friends", profile.ProfileName, "entities must be unescaped")
	assert.Equal(t, "https://avatars.fastly.steamstatic.com/abc123_full.jpg", profile.AvatarURL)
}

func TestParseProfileErrorPage(t *testing.T) {
	body := `<html><body><div class="error_ctn"><h3>The specified profile could not be found.</h3></div></body></html>`
	_, err := parseProfile(body)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseProfilePrivate(t *testing.T) {
	body := `<html><body><span class="actual_persona_name">Someone</span><div class="profile_private_info">This profile is private.</div></body></html>`
	_, err := parseProfile(body)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestParseProfileMissingName(t *testing.T) {
	_, err := parseProfile(`<html><body>nothing useful</body></html>`)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseGameFilter(t *testing.T) {
	games, err := parseGameFilter(loadFixture(t, "screenshots_page.html"))
	require.NoError(t, err)

	// appid=0 is the "All Games" pseudo-entry and must be excluded
	require.Len(t, games, 2)
	assert.Equal(t, 220, games[0].AppID)
	assert.Equal(t, "Half-Life 2", games[0].Name)
	assert.Equal(t, 3, games[0].ScreenshotCount)
	assert.Equal(t, 440, games[1].AppID)
	assert.Equal(t, 1204, games[1].ScreenshotCount, "thousands separators must parse")
}

func TestParseScreenshotGrid(t *testing.T) {
	refs, err := parseScreenshotGrid(loadFixture(t, "grid_page.html"))
	require.NoError(t, err)

	require.Len(t, refs, 2)
	assert.Equal(t, "111111", refs[0].SteamID)
	assert.Equal(t, "https://steamcommunity.com/sharedfiles/filedetails/?id=111111", refs[0].DetailURL)
	assert.Equal(t, "https://steamuserimages-a.akamaihd.net/ugc/111/AAA/?imw=512&imh=288&ima=fit&impolicy=Letterbox", refs[0].ThumbURL)
	assert.Equal(t, "https://steamuserimages-a.akamaihd.net/ugc/111/AAA/", refs[0].FullImageURL,
		"full image URL is the thumbnail minus its resize query")
	assert.Equal(t, "222222", refs[1].SteamID)
}

func TestParseScreenshotGridEmpty(t *testing.T) {
	refs, err := parseScreenshotGrid(`<html><body><div id="image_wall"></div></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestParseScreenshotDetail(t *testing.T) {
	ref := ScreenshotRef{SteamID: "111111"}
	err := parseScreenshotDetail(loadFixture(t, "detail_page.html"), &ref)
	require.NoError(t, err)

	assert.Equal(t, "https://steamuserimages-a.akamaihd.net/ugc/111/AAA/", ref.FullImageURL)
	assert.Equal(t, "Ravenholm at night", ref.Description, "markup inside descriptions is stripped")
	require.NotNil(t, ref.TakenAt)
	assert.Equal(t, time.Date(2023, time.June, 5, 16, 12, 0, 0, time.UTC), ref.TakenAt.UTC())
}

func TestParseScreenshotDetailMissingImage(t *testing.T) {
	ref := ScreenshotRef{SteamID: "1"}
	err := parseScreenshotDetail(`<html><body>gone</body></html>`, &ref)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseSteamDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"Jun 5, 2023 @ 4:12pm", time.Date(2023, time.June, 5, 16, 12, 0, 0, time.UTC)},
		{"5 Jun, 2023 @ 4:12pm", time.Date(2023, time.June, 5, 16, 12, 0, 0, time.UTC)},
		{"Dec 31, 2019 @ 11:59pm", time.Date(2019, time.December, 31, 23, 59, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseSteamDate(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.UTC(), tc.in)
	}
}

func TestParseSteamDateCurrentYear(t *testing.T) {
	got, err := ParseSteamDate("Jan 2 @ 3:04pm")
	require.NoError(t, err)
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 2, got.Day())
	assert.False(t, got.After(time.Now().UTC()), "yearless dates must not land in the future")
}

func TestParseSteamDateInvalid(t *testing.T) {
	_, err := ParseSteamDate("not a date")
	assert.ErrorIs(t, err, ErrParse)
}

func TestStripQuery(t *testing.T) {
	assert.Equal(t, "https://example.com/a/b", stripQuery("https://example.com/a/b?imw=512&imh=288"))
	assert.Equal(t, "https://example.com/a/b", stripQuery("https://example.com/a/b"))
}

func TestIsMatureGate(t *testing.T) {
	assert.True(t, isMatureGate(`<div id="age_gate"><form>...</form></div>`))
	assert.False(t, isMatureGate(`<div id="image_wall"></div>`))
}
