package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printdesk/internal/db"
)

const (
	cookieName           = "printdesk_auth"
	settingsKeyPassword  = "admin_password"
	settingsKeyJWTSecret = "jwt_secret"

	RoleOwner = "owner"
	RoleStaff = "staff"

	ContextOwnerID = "owner_id"
	ContextRole    = "role"

	staffSubject = "staff"
)

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

// SettingsStore keeps the admin password hash and generated signing secret.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (*db.Setting, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Config struct {
	JWTSecret         string
	TokenDuration     time.Duration
	AdminPasswordHash string
}

// AuthMiddleware validates HS256 tokens. Owner tokens come from the identity
// provider that shares the secret and carry the owner id as subject; staff tokens
// are issued by LoginHandler.
type AuthMiddleware struct {
	settings      SettingsStore
	secret        []byte
	tokenDuration time.Duration
	adminHash     string
}

func NewAuthMiddleware(settings SettingsStore, cfg Config) (*AuthMiddleware, error) {
	if cfg.TokenDuration <= 0 {
		cfg.TokenDuration = 24 * time.Hour
	}
	a := &AuthMiddleware{
		settings:      settings,
		tokenDuration: cfg.TokenDuration,
		adminHash:     cfg.AdminPasswordHash,
	}

	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
		return a, nil
	}
	secret, err := a.getOrCreateSecret(context.Background())
	if err != nil {
		return nil, err
	}
	a.secret = secret
	return a, nil
}

func (a *AuthMiddleware) getOrCreateSecret(ctx context.Context) ([]byte, error) {
	setting, err := a.settings.GetSetting(ctx, settingsKeyJWTSecret)
	if err == nil {
		return hex.DecodeString(setting.Value)
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	if err := a.settings.SetSetting(ctx, settingsKeyJWTSecret, hex.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

func (a *AuthMiddleware) passwordHash(ctx context.Context) (string, error) {
	if a.adminHash != "" {
		return a.adminHash, nil
	}
	setting, err := a.settings.GetSetting(ctx, settingsKeyPassword)
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// IssueToken signs a token for subject with role.
func (a *AuthMiddleware) IssueToken(subject, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenDuration)),
			Issuer:    "printdesk",
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	return ""
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Success: false, Message: "Invalid request"})
		return
	}

	hash, err := a.passwordHash(c.Request.Context())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusForbidden, LoginResponse{Success: false, Message: "Admin password not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, LoginResponse{Success: false, Message: "Server error"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, LoginResponse{Success: false, Message: "Invalid password"})
		return
	}

	token, err := a.IssueToken(staffSubject, RoleStaff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Success: false, Message: "Failed to generate token"})
		return
	}

	c.SetCookie(cookieName, token, int(a.tokenDuration.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Token: token})
}

// ChangePasswordHandler stores a new admin password hash in settings. It is
// unavailable when the hash is pinned in configuration.
func (a *AuthMiddleware) ChangePasswordHandler(c *gin.Context) {
	if a.adminHash != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "Admin password is set in configuration"})
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	current, err := a.passwordHash(ctx)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	if current != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(current), []byte(req.CurrentPassword)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
			return
		}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	if err := a.settings.SetSetting(ctx, settingsKeyPassword, string(hashed)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password changed"})
}

func (a *AuthMiddleware) authenticate(c *gin.Context) (*Claims, bool) {
	token := a.getTokenFromRequest(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}
	claims, err := a.validateToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return nil, false
	}
	return claims, true
}

// RequireOwner admits any valid non-staff token and exposes its subject as the owner id.
func (a *AuthMiddleware) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := a.authenticate(c)
		if !ok {
			return
		}
		if claims.Role == RoleStaff || claims.Subject == "" || claims.Subject == staffSubject {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Owner token required"})
			return
		}
		c.Set(ContextOwnerID, claims.Subject)
		c.Set(ContextRole, RoleOwner)
		c.Next()
	}
}

func (a *AuthMiddleware) RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := a.authenticate(c)
		if !ok {
			return
		}
		if claims.Role != RoleStaff {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Staff access required"})
			return
		}
		c.Set(ContextRole, RoleStaff)
		c.Next()
	}
}

func OwnerID(c *gin.Context) string {
	return c.GetString(ContextOwnerID)
}
