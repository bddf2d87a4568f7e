package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler exposes the role and permission graph over JSON endpoints. Every
// endpoint is itself guarded by the decision engine, so managing roles
// requires the matching "<action>:role" permission.
type Handler struct {
	logger     *slog.Logger
	store      *Store
	perms      PermissionReader
	guard      Middleware
	validate   *validator.Validate
	invalidate func(context.Context)
}

// NewHandler builds a Handler. invalidate is called after every mutation so
// a decision cache can drop stale answers; pass nil when no cache is wired.
func NewHandler(logger *slog.Logger, store *Store, perms PermissionReader, guard Middleware, invalidate func(context.Context)) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if invalidate == nil {
		invalidate = func(context.Context) {}
	}
	return &Handler{
		logger:     logger,
		store:      store,
		perms:      perms,
		guard:      guard,
		validate:   validator.New(),
		invalidate: invalidate,
	}
}

// DeclarePermissions registers this handler's endpoints in the route table.
func (h *Handler) DeclarePermissions(table *Table) error {
	declarations := []Declaration{
		{Method: http.MethodGet, Route: "/roles", Permission: "get:role"},
		{Method: http.MethodGet, Route: "/roles/{id}", Permission: "get:role"},
		{Method: http.MethodPost, Route: "/roles", Permission: "create:role"},
		{Method: http.MethodPatch, Route: "/roles/{id}", Permission: "update:role"},
		{Method: http.MethodDelete, Route: "/roles/{id}", Permission: "delete:role"},
		{Method: http.MethodPost, Route: "/roles/{id}/members", Permission: "update:role"},
		{Method: http.MethodGet, Route: "/permissions", Permission: "get:permission"},
	}
	for _, d := range declarations {
		if err := table.Declare(d.Method, d.Route, d.Permission); err != nil {
			return err
		}
	}
	return nil
}

// MountRoutes registers the guarded endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Guard)
		r.Get("/roles", h.listRoles)
		r.Post("/roles", h.createRole)
		r.Get("/roles/{id}", h.getRole)
		r.Patch("/roles/{id}", h.patchRole)
		r.Delete("/roles/{id}", h.deleteRole)
		r.Post("/roles/{id}/members", h.addMember)
		r.Get("/permissions", h.listPermissions)
	})
}

type roleResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	PermissionIDs []string `json:"permission_ids"`
	MemberIDs     []string `json:"member_ids"`
	IsDynamic     bool     `json:"is_dynamic"`
}

type permissionResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Actions   []Action `json:"actions"`
	IsDynamic bool     `json:"is_dynamic"`
}

type createRoleRequest struct {
	Name          string   `json:"name" validate:"required"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permission_ids"`
	IsDynamic     bool     `json:"is_dynamic"`
}

type patchRoleRequest struct {
	Name                *string  `json:"name"`
	Title               *string  `json:"title"`
	Description         *string  `json:"description"`
	AddPermissionIDs    []string `json:"add_permission_ids"`
	RemovePermissionIDs []string `json:"remove_permission_ids"`
	AddMemberIDs        []string `json:"add_member_ids"`
	RemoveMemberIDs     []string `json:"remove_member_ids"`
}

type addMemberRequest struct {
	MemberID string `json:"member_id" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	filter := RoleFilter{}
	if names := r.URL.Query().Get("names"); names != "" {
		filter.Names = strings.Split(names, ",")
	}
	if members := r.URL.Query().Get("member_ids"); members != "" {
		filter.MemberIDs = strings.Split(members, ",")
	}
	roles, err := h.store.Get(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.store.Create(r.Context(), RoleCreate{
		Name:          req.Name,
		Title:         req.Title,
		Description:   req.Description,
		PermissionIDs: req.PermissionIDs,
		IsDynamic:     req.IsDynamic,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context())
	h.respond(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) patchRole(w http.ResponseWriter, r *http.Request) {
	var req patchRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.store.Patch(r.Context(), chi.URLParam(r, "id"), RolePatch{
		Name:                req.Name,
		Title:               req.Title,
		Description:         req.Description,
		AddPermissionIDs:    req.AddPermissionIDs,
		RemovePermissionIDs: req.RemovePermissionIDs,
		AddMemberIDs:        req.AddMemberIDs,
		RemoveMemberIDs:     req.RemoveMemberIDs,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context())
	h.respond(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.store.AddMember(r.Context(), chi.URLParam(r, "id"), req.MemberID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context())
	h.respond(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.perms.GetPermissions(r.Context(), PermissionFilter{})
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		out = append(out, permissionResponse{
			ID:        perm.ID,
			Name:      perm.Name,
			Actions:   perm.Actions,
			IsDynamic: perm.IsDynamic,
		})
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "malformed json body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		nameErr     *InvalidNameError
		methodErr   *InvalidMethodError
		dupErr      *DuplicateNameError
		memberErr   *AlreadyMemberError
		prefixErr   *DynamicPrefixMismatchError
		nonDynErr   *NonDynamicPermissionError
		missingPerm *MissingPermissionError
	)
	switch {
	case errors.As(err, &nameErr), errors.As(err, &methodErr):
		h.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNotFound), errors.As(err, &missingPerm):
		h.respond(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &dupErr), errors.As(err, &memberErr),
		errors.As(err, &prefixErr), errors.As(err, &nonDynErr),
		errors.Is(err, ErrDynamicRoleImmutable):
		h.respond(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("rbac handler", slog.Any("error", err))
		h.respond(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:            role.ID,
		Name:          role.Name,
		Title:         role.Title,
		Description:   role.Description,
		PermissionIDs: emptyIfNil(role.PermissionIDs),
		MemberIDs:     emptyIfNil(role.MemberIDs),
		IsDynamic:     role.IsDynamic,
	}
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
