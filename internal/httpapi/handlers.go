package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	authmw "github.com/MrEthical07/authcore/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type handler struct {
	engine *authcore.Engine
	logger *zap.Logger
}

type userResponse struct {
	ID               string        `json:"id"`
	Email            string        `json:"email"`
	DisplayName      string        `json:"displayName,omitempty"`
	Role             authcore.Role `json:"role"`
	TwoFactorEnabled bool          `json:"twoFactorEnabled"`
	CreatedAt        time.Time     `json:"createdAt"`
}

type tempTokenRequest struct {
	TempToken string `json:"tempToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req authcore.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.engine.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		ID:               user.ID,
		Email:            user.Email,
		DisplayName:      user.DisplayName,
		Role:             user.Role,
		TwoFactorEnabled: user.TwoFactorEnabled,
		CreatedAt:        user.CreatedAt,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req authcore.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Login(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) complete2FA(w http.ResponseWriter, r *http.Request) {
	var req authcore.Complete2FARequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Complete2FA(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) resend2FA(w http.ResponseWriter, r *http.Request) {
	var req tempTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Resend2FACode(r.Context(), req.TempToken); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Verification code sent"})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req authcore.RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var req authcore.LogoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		// Without a refresh token only the bearer's own session can be closed.
		req.SessionID = h.bearerSession(r)
	}
	if err := h.engine.Logout(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) bearerSession(r *http.Request) string {
	value := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return ""
	}
	claims, err := h.engine.ValidateAccess(r.Context(), strings.TrimSpace(value[len(prefix):]))
	if err != nil {
		return ""
	}
	return claims.SessionID
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req authcore.ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "If the account exists, a reset link has been sent",
	})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req authcore.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset"})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, claims)
}

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ActiveSessionCount(r.Context(), subject(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"active": n})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req authcore.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = subject(r)
	if err := h.engine.ChangePassword(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password changed; sign in again"})
}

func (h *handler) enable2FA(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Enable2FA(r.Context(), subject(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Two-factor authentication enabled"})
}

func (h *handler) enroll2FA(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Request2FAEnrollment(r.Context(), subject(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Verification code sent"})
}

func (h *handler) confirm2FA(w http.ResponseWriter, r *http.Request) {
	var req authcore.CodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Confirm2FA(r.Context(), subject(r), req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Two-factor authentication enabled"})
}

func (h *handler) request2FADisable(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Request2FADisable(r.Context(), subject(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Verification code sent"})
}

func (h *handler) disable2FA(w http.ResponseWriter, r *http.Request) {
	var req authcore.Disable2FARequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = subject(r)
	if err := h.engine.Disable2FA(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Two-factor authentication disabled"})
}

func subject(r *http.Request) string {
	claims, ok := authmw.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.Subject
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Request body must be valid JSON")
		return false
	}
	return true
}

// fail maps engine errors to statuses. Messages of classified errors are
// safe to show; anything else is logged and hidden.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "Internal server error")
		return
	}

	msg := http.StatusText(status)
	var authErr *authcore.Error
	if errors.As(err, &authErr) && authErr.Message != "" {
		msg = authErr.Message
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, authcore.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, authcore.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, authcore.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, authcore.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
