package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"maaspace/internal/models"
)

func (h *Handler) listDiary(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	entries, err := h.Diary.ListDay(c.Request.Context(), userID, h.dateParam(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type diaryRequest struct {
	EntryType models.EntryType `json:"entry_type"`
	Content   string           `json:"content"`
	EntryDate string           `json:"entry_date"`
}

func (h *Handler) saveDiary(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req diaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.EntryDate == "" {
		req.EntryDate = h.dateParam(c)
	}
	entry, err := h.Diary.SaveEntry(c.Request.Context(), userID, req.EntryType, req.Content, req.EntryDate)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) deleteDiary(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.Diary.DeleteEntry(c.Request.Context(), userID, c.Param("entry_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) requestDiaryReply(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.Diary.RequestReply(c.Request.Context(), userID, c.Param("entry_id"), h.nickname(c, userID)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

func (h *Handler) listTasks(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	tasks, err := h.Diary.ListTasks(c.Request.Context(), userID, h.dateParam(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

type taskRequest struct {
	Title         string  `json:"title"`
	TaskDate      string  `json:"task_date"`
	ScheduledTime *string `json:"scheduled_time"`
}

func (h *Handler) addTask(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TaskDate == "" {
		req.TaskDate = h.dateParam(c)
	}
	task, err := h.Diary.AddTask(c.Request.Context(), userID, req.Title, req.TaskDate, req.ScheduledTime)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *Handler) toggleTask(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		IsCompleted *bool `json:"is_completed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsCompleted == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_completed is required"})
		return
	}
	task, err := h.Diary.ToggleTask(c.Request.Context(), userID, c.Param("task_id"), *req.IsCompleted)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) deleteTask(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.Diary.DeleteTask(c.Request.Context(), userID, c.Param("task_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listPrayers(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	prayers, err := h.Prayers.List(c.Request.Context(), userID, 0)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prayers": prayers})
}

func (h *Handler) savePrayer(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"prayer_content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := h.Prayers.Save(c.Request.Context(), userID, req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) deletePrayer(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.Prayers.Delete(c.Request.Context(), userID, c.Param("prayer_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
