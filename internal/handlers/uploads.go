package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/uploads"
)

// ImageSource reads stored images.
type ImageSource interface {
	Get(id string) ([]byte, string, error)
}

// UploadHandler serves stored message images.
type UploadHandler struct {
	images ImageSource
}

func NewUploadHandler(images ImageSource) *UploadHandler {
	return &UploadHandler{images: images}
}

// Get writes the image stored under :id.
func (h *UploadHandler) Get(c *gin.Context) {
	data, contentType, err := h.images.Get(c.Param("id"))
	if errors.Is(err, uploads.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "image not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read image"})
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, contentType, data)
}
