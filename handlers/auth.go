package handlers

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gamevault/gamevault/auth"
	"github.com/gamevault/gamevault/config"
	"github.com/gamevault/gamevault/repository"
)

// AuthHandler issues access tokens and manages API keys. Single-owner model:
// the configured secret key is the only login credential.
type AuthHandler struct {
	cfg        *config.Config
	jwtService *auth.JWTService
	apiKeys    *repository.APIKeyRepository
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config, jwtService *auth.JWTService, apiKeys *repository.APIKeyRepository) *AuthHandler {
	return &AuthHandler{cfg: cfg, jwtService: jwtService, apiKeys: apiKeys}
}

type tokenRequest struct {
	SecretKey string `json:"secret_key" binding:"required"`
}

// IssueToken exchanges the secret key for a JWT
// POST /api/auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret_key is required"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.SecretKey), []byte(h.cfg.SecretKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret key"})
		return
	}

	token, err := h.jwtService.GenerateToken("owner")
	if err != nil {
		log.Printf("Failed to generate token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type createKeyRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateKey mints a new API key; the plaintext appears only in this response
// POST /api/keys
func (h *AuthHandler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	plaintext := "gv_" + uuid.New().String()
	key, err := h.apiKeys.Create(req.Name, plaintext)
	if err != nil {
		log.Printf("Failed to create api key: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": plaintext, "id": key.ID, "name": key.Name})
}

// ListKeys returns all API keys without their hashes
// GET /api/keys
func (h *AuthHandler) ListKeys(c *gin.Context) {
	keys, err := h.apiKeys.GetAll()
	if err != nil {
		log.Printf("Failed to list api keys: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list API keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// RevokeKey deactivates an API key
// DELETE /api/keys/:id
func (h *AuthHandler) RevokeKey(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key id"})
		return
	}
	revoked, err := h.apiKeys.Revoke(id)
	if err != nil {
		log.Printf("Failed to revoke api key %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke API key"})
		return
	}
	if !revoked {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
