package api

import (
	"math/rand/v2"
	"net/http"

	"github.com/gin-gonic/gin"

	"maaspace/internal/daily"
)

func (h *Handler) getChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	session, err := h.Chat.Session(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	snap := session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"messages": snap.Messages,
		"mood":     snap.Mood,
		"state":    snap.State,
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) sendChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.Chat.Session(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	answer, err := session.Send(c.Request.Context(), req.Message, h.nickname(c, userID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	snap := session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"message": answer,
		"mood":    snap.Mood,
	})
}

func (h *Handler) clearChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	session, err := h.Chat.Session(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	session.Clear()
	c.Status(http.StatusNoContent)
}

func (h *Handler) dailyMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	msg, err := h.Daily.Today(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) comfort(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": daily.Comfort(rand.IntN)})
}
