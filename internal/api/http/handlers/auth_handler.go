package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workflow-service/internal/api/dto"
	"github.com/spec-kit/workflow-service/internal/auth"
	"github.com/spec-kit/workflow-service/internal/domain"
	"github.com/spec-kit/workflow-service/internal/repository"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// AuthHandler issues access tokens for directory users.
type AuthHandler struct {
	tokens    *auth.TokenManager
	directory repository.DirectoryRepository
}

// NewAuthHandler constructs handler.
func NewAuthHandler(tokens *auth.TokenManager, directory repository.DirectoryRepository) *AuthHandler {
	return &AuthHandler{tokens: tokens, directory: directory}
}

// Login POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	user, err := h.directory.GetUserByEmail(c.Context(), req.Email)
	if err != nil {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	if !user.Active {
		return apperrors.NewForbidden("user inactive")
	}
	if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		return apperrors.NewUnauthorized("invalid credentials")
	}

	token, expiresAt, err := h.tokens.GenerateToken(user.ID, domain.SubjectTypeUser, user.RoleID)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.LoginResponse{Token: token, ExpiresAt: expiresAt}})
}
