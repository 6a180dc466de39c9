package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"laundry-booking-backend/internal/assets"
	"laundry-booking-backend/internal/auth"
)

const uploadTimeout = 30 * time.Second

type profileRequest struct {
	Name   *string `json:"name"`
	Room   *string `json:"room"`
	Hostel *string `json:"hostel"`
}

// UpdateProfile changes the caller's name, room or hostel.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	p, _ := auth.PrincipalFrom(c)
	u, err := h.accounts.UpdateProfile(c.Request.Context(), p.ID, auth.ProfileUpdate{
		Name:   req.Name,
		Room:   req.Room,
		Hostel: req.Hostel,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u.Response())
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePassword replaces the caller's password.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	p, _ := auth.PrincipalFrom(c)
	err := h.accounts.ChangePassword(c.Request.Context(), p.ID, req.CurrentPassword, req.NewPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "current password is incorrect", "code": "forbidden"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// UploadPhoto stores a profile photo and records its URL. The user record is
// only touched after the upload succeeded.
func (h *Handler) UploadPhoto(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+(1<<20))
	fh, err := c.FormFile("photo")
	if err != nil {
		badRequest(c, "photo is required")
		return
	}
	if fh.Size > h.maxUpload {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo is too large", "code": "invalid_request"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "photo is unreadable")
		return
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		badRequest(c, "photo is unreadable")
		return
	}
	head = head[:n]
	contentType := http.DetectContentType(head)

	p, _ := auth.PrincipalFrom(c)
	key, err := assets.PhotoKey(p.ID, contentType)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), uploadTimeout)
	defer cancel()
	url, err := h.uploader.Upload(ctx, key, contentType, io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		respondError(c, err)
		return
	}
	u, err := h.accounts.SetPhoto(c.Request.Context(), p.ID, url)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u.Response())
}
