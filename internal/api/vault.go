package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"maaspace/internal/blob"
	"maaspace/internal/service/account"
	"maaspace/internal/service/vault"
)

const (
	// maxFormBytes bounds the in-memory part of a multipart form.
	maxFormBytes = 10 << 20
	// maxBodyBytes caps the whole request: the largest file policy plus
	// room for the multipart envelope and form fields.
	maxBodyBytes = maxFormBytes + 1<<20
)

var errBodyTooLarge = errors.New("upload exceeds the size limit")

// formUpload opens the "file" field. The caller must call the returned close.
func formUpload(c *gin.Context) (vault.Upload, func(), error) {
	if c.Request.ContentLength > maxBodyBytes {
		return vault.Upload{}, nil, errBodyTooLarge
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.Request.ParseMultipartForm(maxFormBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return vault.Upload{}, nil, errBodyTooLarge
		}
		return vault.Upload{}, nil, fmt.Errorf("%w: invalid multipart form", blob.ErrInvalidFile)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return vault.Upload{}, nil, fmt.Errorf("%w: file is required", blob.ErrInvalidFile)
	}
	f, err := fh.Open()
	if err != nil {
		return vault.Upload{}, nil, fmt.Errorf("open upload: %w", err)
	}
	up := vault.Upload{
		Name:        path.Base(fh.Filename),
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}
	return up, func() { _ = f.Close() }, nil
}

func (h *Handler) uploadProfilePhoto(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	up, closeFn, err := formUpload(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeFn()
	url, err := h.Vault.UploadProfilePhoto(c.Request.Context(), userID, account.PhotoKind(c.Param("kind")), up)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

func (h *Handler) listVault(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	photos, err := h.Vault.ListPhotos(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photos": photos})
}

func (h *Handler) uploadVault(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	up, closeFn, err := formUpload(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeFn()
	photo, err := h.Vault.UploadPhoto(c.Request.Context(), userID, up)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, photo)
}

func (h *Handler) deleteVault(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.Vault.DeletePhoto(c.Request.Context(), userID, c.Param("photo_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) vaultURL(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	url, err := h.Vault.PhotoURL(c.Request.Context(), userID, c.Param("photo_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) listDocuments(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	docs, err := h.Vault.ListDocuments(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (h *Handler) uploadDocument(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	up, closeFn, err := formUpload(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeFn()
	doc, err := h.Vault.UploadDocument(c.Request.Context(), userID, up, c.PostForm("user_note"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) deleteDocument(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.Vault.DeleteDocument(c.Request.Context(), userID, c.Param("doc_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) downloadDocument(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	r, doc, err := h.Vault.Download(c.Request.Context(), userID, c.Param("doc_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer r.Close()
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalName})
	c.DataFromReader(http.StatusOK, doc.FileSize, doc.FileType, r, map[string]string{
		"Content-Disposition": disposition,
	})
}

// serveBlob answers links signed by the local blob store.
func (h *Handler) serveBlob(c *gin.Context) {
	local, ok := h.Blobs.(*blob.LocalStore)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := local.Verify(key, c.Query("expires"), c.Query("sig")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	r, err := local.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.writeError(c, err)
		return
	}
	defer r.Close()
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, r, nil)
}
