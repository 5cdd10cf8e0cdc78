package middleware

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
)

var allowedExts = []string{".mp4", ".mov", ".m4v", ".mkv", ".webm"}

type Validator struct {
	maxUploadMB int
	allowedMIME []string
	field       string
}

func NewValidator(maxUploadMB int, allowedMIME []string) *Validator {
	return &Validator{maxUploadMB: maxUploadMB, allowedMIME: allowedMIME, field: "file"}
}

// ValidateUpload checks size, MIME type and extension of the multipart
// "file" field before the handler sees it.
func (validator *Validator) ValidateUpload() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			maxSize := int64(validator.maxUploadMB) * 1024 * 1024
			c.Request().Body = http.MaxBytesReader(c.Response().Writer, c.Request().Body, maxSize)

			if err := c.Request().ParseMultipartForm(maxSize); err != nil {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("file too large, max size is %d MB", validator.maxUploadMB),
				})
			}

			file, err := c.FormFile(validator.field)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": "file field is required",
				})
			}

			if file.Size > maxSize {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", file.Size, maxSize),
				})
			}

			if !validator.isAllowedMIME(file) {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("unsupported file type, allowed types: %v", validator.allowedMIME),
				})
			}

			if !isAllowedExtension(file.Filename) {
				return c.JSON(http.StatusUnsupportedMediaType, map[string]string{
					"error": "unsupported file extension, allowed: " + strings.Join(allowedExts, ", "),
				})
			}

			return next(c)
		}
	}
}

func (validator *Validator) isAllowedMIME(file *multipart.FileHeader) bool {
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		return false
	}

	// Drop parameters, e.g. "video/mp4; codecs=avc1.42E01E"
	if index := strings.Index(contentType, ";"); index != -1 {
		contentType = strings.TrimSpace(contentType[:index])
	}

	for _, allowed := range validator.allowedMIME {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func isAllowedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range allowedExts {
		if ext == allowed {
			return true
		}
	}
	return false
}
