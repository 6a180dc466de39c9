package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-booking-backend/internal/auth"
	"laundry-booking-backend/internal/otp"
	"laundry-booking-backend/internal/store"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Room     string `json:"room"`
	Hostel   string `json:"hostel"`
}

// Register creates a student account and logs it in.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	u, err := h.accounts.Register(c.Request.Context(), auth.Registration{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Room:     req.Room,
		Hostel:   req.Hostel,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	log.Printf("registered user %s", u.ID)
	h.gateway.Login(c, u, http.StatusCreated)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks a password and establishes a session or bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	u, err := h.accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.gateway.Unauthorized(c, err.Error())
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	h.gateway.Login(c, u, http.StatusOK)
}

type externalLoginRequest struct {
	Token string `json:"token" binding:"required"`
}

// ExternalLogin exchanges an identity-provider token for a local login.
func (h *Handler) ExternalLogin(c *gin.Context) {
	var req externalLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	identity, err := h.external.Verify(req.Token)
	if errors.Is(err, auth.ErrInvalidExternalToken) {
		log.Printf("rejected external token: %v", err)
		h.gateway.Unauthorized(c, auth.ErrInvalidExternalToken.Error())
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	u, err := h.accounts.LoginExternal(c.Request.Context(), identity)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.gateway.Unauthorized(c, err.Error())
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	h.gateway.Login(c, u, http.StatusOK)
}

// Logout ends the caller's session, if any.
func (h *Handler) Logout(c *gin.Context) {
	h.gateway.Logout(c)
}

// Me returns the caller's profile.
func (h *Handler) Me(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	u, err := h.accounts.Get(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u.Response())
}

type otpRequest struct {
	Email string `json:"email" binding:"required"`
}

// RequestOTP mails a reset code. The answer is the same whether or not the
// account exists.
func (h *Handler) RequestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if h.accounts.Exists(c.Request.Context(), req.Email) {
		if err := h.otp.Request(c.Request.Context(), req.Email); err != nil {
			log.Printf("otp request for %s not sent: %v", req.Email, err)
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "if the account exists, a code has been sent"})
}

type otpVerifyRequest struct {
	Email       string `json:"email" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// VerifyOTP resets the password when the code matches.
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if len(req.NewPassword) < 8 {
		respondError(c, auth.ErrWeakPassword)
		return
	}

	switch err := h.otp.Verify(req.Email, req.Code); {
	case errors.Is(err, otp.ErrExpired), errors.Is(err, otp.ErrTooManyAttempts):
		badRequest(c, err.Error())
		return
	case err != nil:
		badRequest(c, otp.ErrInvalidCode.Error())
		return
	}

	err := h.accounts.ResetPassword(c.Request.Context(), req.Email, req.NewPassword)
	if errors.Is(err, store.ErrNotFound) {
		badRequest(c, otp.ErrInvalidCode.Error())
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}
