package utils

import (
	"time"

	"github.com/gin-gonic/gin"
)

// UploadResponse is the envelope of the upload endpoint, success or not.
type UploadResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	URL       string `json:"url,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// UploadOK writes the success envelope with the share URL and expiry.
func UploadOK(ctx *gin.Context, message, url string, expiresAt time.Time) {
	ctx.JSON(200, UploadResponse{
		Success:   true,
		Message:   message,
		URL:       url,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

// UploadError writes the failure envelope for the upload endpoint.
func UploadError(ctx *gin.Context, status int, message string) {
	ctx.JSON(status, UploadResponse{Success: false, Message: message})
}

// FileError writes the `{error}` envelope used by the read endpoints.
func FileError(ctx *gin.Context, status int, message string) {
	ctx.JSON(status, gin.H{"error": message})
}
