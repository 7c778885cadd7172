package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/technosupport/firewatch/internal/alarms"
)

type CreateUserRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Role     alarms.Role `json:"role"`
}

// GET /api/v1/admin/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.Users.List(r.Context(), principal(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": list, "count": len(list)})
}

// POST /api/v1/admin/users
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = alarms.RoleUser
	}
	u, err := s.Users.Create(r.Context(), principal(r), req.Username, req.Password, req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// DELETE /api/v1/admin/users/{id}
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid user id")
		return
	}
	if err := s.Users.Delete(r.Context(), principal(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/admin/audit?limit=&before=
func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit log disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)

	entries, err := s.Audit.List(r.Context(), limit, before)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := map[string]any{"entries": entries}
	if n := len(entries); n > 0 {
		resp["next_before"] = entries[n-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}
