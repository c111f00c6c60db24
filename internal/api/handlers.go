package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"maaspace/internal/auth"
	"maaspace/internal/blob"
	"maaspace/internal/logger"
	"maaspace/internal/models"
	"maaspace/internal/reply"
	"maaspace/internal/service"
	"maaspace/internal/service/account"
	"maaspace/internal/service/chat"
	dailysvc "maaspace/internal/service/daily"
	"maaspace/internal/service/diary"
	"maaspace/internal/service/prayer"
	"maaspace/internal/service/vault"
	"maaspace/internal/worker"
)

const replyFailedNotice = "Failed to send message. Please try again."

// Services bundles what the handlers call into.
type Services struct {
	Accounts *account.Service
	Auth     *auth.Service
	Chat     *chat.Manager
	Daily    *dailysvc.Service
	Diary    *diary.Service
	Prayers  *prayer.Service
	Vault    *vault.Service
	// Blobs is consulted only for the local signed download route.
	Blobs blob.Store
	// Clock returns local time in the configured zone.
	Clock func() time.Time
}

// Handler wires HTTP routes to the domain services.
type Handler struct {
	Services
	log *logger.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(svc Services, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if svc.Clock == nil {
		svc.Clock = time.Now
	}
	return &Handler{Services: svc, log: log.With("service", "api")}
}

// CORS builds the cross-origin middleware for the configured origins.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-CSRF-Token"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	if _, ok := h.Blobs.(*blob.LocalStore); ok {
		api.GET("/blobs/*key", h.serveBlob)
	}

	me := api.Group("/me")
	me.Use(h.Auth.Middleware(), h.Auth.CSRFMiddleware())
	me.POST("/logout", h.logoutUser)
	me.DELETE("", h.deleteUser)
	me.GET("/profile", h.getProfile)
	me.PUT("/profile", h.updateProfile)
	me.POST("/profile/photos/:kind", h.uploadProfilePhoto)

	me.GET("/chat", h.getChat)
	me.POST("/chat", h.sendChat)
	me.DELETE("/chat", h.clearChat)
	me.GET("/daily-message", h.dailyMessage)
	me.GET("/comfort", h.comfort)

	me.GET("/diary", h.listDiary)
	me.POST("/diary", h.saveDiary)
	me.DELETE("/diary/:entry_id", h.deleteDiary)
	me.POST("/diary/:entry_id/reply", h.requestDiaryReply)
	me.GET("/tasks", h.listTasks)
	me.POST("/tasks", h.addTask)
	me.PATCH("/tasks/:task_id", h.toggleTask)
	me.DELETE("/tasks/:task_id", h.deleteTask)
	me.GET("/prayers", h.listPrayers)
	me.POST("/prayers", h.savePrayer)
	me.DELETE("/prayers/:prayer_id", h.deletePrayer)

	me.GET("/vault", h.listVault)
	me.POST("/vault", h.uploadVault)
	me.DELETE("/vault/:photo_id", h.deleteVault)
	me.GET("/vault/:photo_id/url", h.vaultURL)
	me.GET("/documents", h.listDocuments)
	me.POST("/documents", h.uploadDocument)
	me.DELETE("/documents/:doc_id", h.deleteDocument)
	me.GET("/documents/:doc_id/download", h.downloadDocument)
}

// writeError maps service errors onto status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var turnErr *chat.TurnError
	switch {
	case errors.Is(err, account.ErrEmailTaken), errors.Is(err, chat.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, errBodyTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	case errors.As(err, &turnErr) && turnErr.Stage == chat.StageReply:
		status := http.StatusBadGateway
		if errors.Is(err, reply.ErrRateLimited) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": replyFailedNotice})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, blob.ErrInvalidFile), errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) registerUser(c *gin.Context) {
	var req account.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.Accounts.Register(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.Accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	authToken, err := h.Auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.Auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	h.Chat.Reset(userID)
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.Auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			h.log.Warn("revoke token failed", "user_id", userID, "error", err)
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.Auth.RevokeUserTokens(ctx, userID); err != nil {
		h.writeError(c, err)
		return
	}
	h.Chat.Reset(userID)
	h.Diary.CancelPending(userID)
	if _, err := h.Vault.ForgetUser(ctx, userID); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.Accounts.DeleteUser(ctx, userID); err != nil {
		h.writeError(c, err)
		return
	}
	if _, err := h.Vault.PurgeTombstones(ctx); err != nil {
		h.log.Warn("release deleted user blobs deferred to sweeper", "user_id", userID, "error", err)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

type profileResponse struct {
	*models.Profile
	MotherPhotoURL string `json:"mother_photo_url,omitempty"`
	UmiyaPhotoURL  string `json:"umiya_maa_photo_url,omitempty"`
}

func (h *Handler) profileView(c *gin.Context, p *models.Profile) profileResponse {
	resp := profileResponse{Profile: p}
	var err error
	if resp.MotherPhotoURL, err = h.Vault.SignPath(c.Request.Context(), p.MotherPhotoPath); err != nil {
		h.log.Warn("sign mother photo failed", "user_id", p.UserID, "error", err)
	}
	if resp.UmiyaPhotoURL, err = h.Vault.SignPath(c.Request.Context(), p.UmiyaPhotoPath); err != nil {
		h.log.Warn("sign umiya photo failed", "user_id", p.UserID, "error", err)
	}
	return resp
}

func (h *Handler) getProfile(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	p, err := h.Accounts.Profile(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.profileView(c, p))
}

func (h *Handler) updateProfile(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req account.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := h.Accounts.UpdateProfile(c.Request.Context(), userID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.profileView(c, p))
}

// nickname returns how Maa addresses the user, falling back to the default.
func (h *Handler) nickname(c *gin.Context, userID string) string {
	p, err := h.Accounts.Profile(c.Request.Context(), userID)
	if err != nil {
		h.log.Warn("load profile failed", "user_id", userID, "error", err)
		return models.DefaultNickname
	}
	return p.DisplayNickname()
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.Auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.Auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.Auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.Auth.AuthCookieName(), h.Auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.Auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// dateParam returns the "date" query value or today's local date.
func (h *Handler) dateParam(c *gin.Context) string {
	if date := strings.TrimSpace(c.Query("date")); date != "" {
		return date
	}
	return h.Clock().Format(models.DateLayout)
}
