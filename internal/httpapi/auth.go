package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/access"
	"github.com/NASA-0007/Rosaiq-Trial/internal/middleware"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	user, err := s.Repo.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrUserNotFound) || (err == nil && !access.CheckPassword(user.PasswordHash, req.Password)) {
		slog.Info("login rejected", "username", req.Username)
		fail(w, r, apperr.Unauthorized("invalid username or password"))
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	token, exp, err := s.Sessions.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.Repo.TouchLogin(r.Context(), user.ID); err != nil {
		slog.Warn("last login update failed", "user_id", user.ID, "error", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(s.Sessions.TTL() / time.Second),
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Info("user logged in", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp,
		"user":       user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.Repo.GetUser(r.Context(), s.principal(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type userRequest struct {
	Username string  `json:"username"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
}

func (s *Server) handleUsersList(w http.ResponseWriter, r *http.Request) {
	users, err := s.Repo.ListUsers(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Password == nil {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	hash, err := access.HashPassword(*req.Password)
	if err != nil {
		fail(w, r, err)
		return
	}
	role := ""
	if req.Role != nil {
		role = *req.Role
	}
	user, err := s.Repo.CreateUser(r.Context(), req.Username, hash, role)
	if err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("user created", "username", user.Username, "role", user.Role, "by", s.principal(r).Username)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleUsersUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var patch store.UserPatch
	if req.Password != nil {
		hash, err := access.HashPassword(*req.Password)
		if err != nil {
			fail(w, r, err)
			return
		}
		patch.PasswordHash = &hash
	}
	patch.Role = req.Role
	user, err := s.Repo.UpdateUser(r.Context(), id, patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUsersDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if id == s.principal(r).UserID {
		fail(w, r, apperr.BadRequest("you cannot delete your own account"))
		return
	}
	if err := s.Repo.DeleteUser(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "userId")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return uuid.Nil, false
	}
	return id, true
}
