package models

// CreateGameRequest creates a game manually (without a Steam import)
type CreateGameRequest struct {
	Name       string `json:"name" binding:"required"`
	SteamAppID *int   `json:"steam_app_id"`
	IsPublic   bool   `json:"is_public"`
}
