package models

// SteamValidateRequest carries the profile identifier and optional Steam cookies.
// Cookies live only for the duration of the request or import session and are
// never persisted.
type SteamValidateRequest struct {
	UserID           string `json:"user_id" binding:"required"`
	SteamLoginSecure string `json:"steam_login_secure"`
	SessionID        string `json:"session_id"`
}

// SteamValidateResponse is the result of a profile validation
type SteamValidateResponse struct {
	Valid       bool   `json:"valid"`
	ProfileName string `json:"profile_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsNumericID bool   `json:"is_numeric_id"`
	Error       string `json:"error,omitempty"`
}

// SteamGameInfo describes one importable game on a Steam profile
type SteamGameInfo struct {
	AppID           int    `json:"app_id"`
	Name            string `json:"name"`
	ScreenshotCount int    `json:"screenshot_count"`
}

// SteamImportRequest starts an import session. Empty GameIDs means import all games.
type SteamImportRequest struct {
	UserID           string `json:"user_id" binding:"required"`
	SteamLoginSecure string `json:"steam_login_secure"`
	SessionID        string `json:"session_id"`
	GameIDs          []int  `json:"game_ids"`
	IsNumericID      bool   `json:"is_numeric_id"`
}
