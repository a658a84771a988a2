// README: Account handlers: register the token's uid, read and edit the profile, store a
// device token, list accounts for admins.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hometaste/internal/apperr"
	"hometaste/internal/http/middleware"
	"hometaste/internal/modules/user"
)

type UserHandler struct {
	users *user.Service
}

func NewUserHandler(svc *user.Service) *UserHandler {
	return &UserHandler{users: svc}
}

type registerReq struct {
	Name    string       `json:"name"`
	Email   string       `json:"email"`
	Phone   string       `json:"phone"`
	Role    string       `json:"role"`
	Address user.Address `json:"address"`
}

func (h *UserHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	if user.Role(req.Role) == user.RoleAdmin && user.Role(middleware.ClaimedRole(c)) != user.RoleAdmin {
		writeMessage(c, http.StatusForbidden, apperr.KindForbidden, "admin accounts cannot self-register")
		return
	}
	u, err := h.users.Register(c.Request.Context(), user.RegisterCommand{
		ID:      callerID(c),
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Role:    user.Role(req.Role),
		Address: req.Address,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"message": "User registered successfully", "user": u})
}

func (h *UserHandler) Me(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"user": u})
}

type profileReq struct {
	Name    *string       `json:"name"`
	Email   *string       `json:"email"`
	Phone   *string       `json:"phone"`
	Address *user.Address `json:"address"`
}

func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req profileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), user.ProfileCommand{
		ID:      callerID(c),
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Profile updated successfully", "user": u})
}

// List is the admin view of every account, optionally narrowed to one role.
func (h *UserHandler) List(c *gin.Context) {
	f := user.Filter{
		Role:  user.Role(c.Query("role")),
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", 10),
	}
	users, total, err := h.users.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if users == nil {
		users = []*user.User{}
	}
	f.Normalize()
	writeJSON(c, http.StatusOK, gin.H{
		"users":       users,
		"total":       total,
		"currentPage": f.Page,
		"totalPages":  (total + f.Limit - 1) / f.Limit,
	})
}

type deviceTokenReq struct {
	Token string `json:"token"`
}

func (h *UserHandler) SetDeviceToken(c *gin.Context) {
	var req deviceTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	if err := h.users.SetDeviceToken(c.Request.Context(), callerID(c), req.Token); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Device token saved"})
}
