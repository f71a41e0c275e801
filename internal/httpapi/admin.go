package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/accounts"
	"carbonmap/core-go/internal/hierarchy"
	"carbonmap/core-go/internal/identity"
)

type entityBody struct {
	ParentID  *string         `json:"parent_id,omitempty"`
	IsPrimary bool            `json:"is_primary"`
	Name      string          `json:"name"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}

type entityCreate struct {
	ID string `json:"id"`
	entityBody
}

type entityResponse struct {
	mapEntity
	Metadata map[string]any `json:"metadata"`
}

func toEntityResponse(e hierarchy.Entity) entityResponse {
	md := e.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return entityResponse{mapEntity: toMapEntity(e), Metadata: md}
}

func (b entityBody) entity(id string) hierarchy.Entity {
	e := hierarchy.Entity{
		ID:       id,
		ParentID: b.ParentID,
		Primary:  b.IsPrimary,
		Name:     strings.TrimSpace(b.Name),
		Metadata: b.Metadata,
	}
	if len(b.Geometry) > 0 && string(b.Geometry) != "null" {
		e.Geometry = b.Geometry
	}
	return e
}

func (h *Handler) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req entityCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !h.ensureCatalog(w) {
		return
	}

	e := req.entity(strings.TrimSpace(req.ID))
	if err := h.catalog.CreateEntity(r.Context(), e); err != nil {
		h.writeDomainError(w, r, err, "create entity")
		return
	}

	h.log.Info().
		Str("actor_id", identity.CallerFrom(r.Context()).UserID).
		Str("entity_id", e.ID).
		Str("parent_id", e.Parent()).
		Msg("entity created")
	h.writeJSON(w, http.StatusCreated, toEntityResponse(e))
}

func (h *Handler) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req entityBody
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !h.ensureCatalog(w) {
		return
	}

	e := req.entity(id)
	if err := h.catalog.UpdateEntity(r.Context(), e); err != nil {
		h.writeDomainError(w, r, err, "update entity")
		return
	}

	h.log.Info().
		Str("actor_id", identity.CallerFrom(r.Context()).UserID).
		Str("entity_id", e.ID).
		Str("parent_id", e.Parent()).
		Msg("entity updated")
	h.writeJSON(w, http.StatusOK, toEntityResponse(e))
}

type grantBody struct {
	UserID     string `json:"user_id"`
	EntityID   string `json:"entity_id"`
	Permission string `json:"permission"`
}

func (h *Handler) handlePutGrant(w http.ResponseWriter, r *http.Request) {
	var req grantBody
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !h.ensureCatalog(w) || !h.ensureAccounts(w) {
		return
	}

	p, err := access.ParsePermission(req.Permission)
	if err != nil {
		h.writeDomainError(w, r, err, "create grant")
		return
	}
	g := access.Grant{UserID: strings.TrimSpace(req.UserID), EntityID: strings.TrimSpace(req.EntityID), Permission: p}
	if err := g.Validate(); err != nil {
		h.writeDomainError(w, r, err, "create grant")
		return
	}
	if _, err := h.accounts.Get(r.Context(), g.UserID); err != nil {
		h.writeDomainError(w, r, err, "create grant")
		return
	}
	if err := h.catalog.PutGrant(r.Context(), g); err != nil {
		h.writeDomainError(w, r, err, "create grant")
		return
	}

	h.log.Info().
		Str("actor_id", identity.CallerFrom(r.Context()).UserID).
		Str("user_id", g.UserID).
		Str("entity_id", g.EntityID).
		Str("permission", g.Permission.String()).
		Msg("grant written")
	h.writeJSON(w, http.StatusOK, g)
}

func (h *Handler) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	entityID := strings.TrimSpace(r.URL.Query().Get("entity_id"))
	if userID == "" || entityID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "user_id and entity_id are required", nil)
		return
	}
	if !h.ensureCatalog(w) {
		return
	}

	if err := h.catalog.RevokeGrant(r.Context(), userID, entityID); err != nil {
		h.writeDomainError(w, r, err, "revoke grant")
		return
	}

	h.log.Info().
		Str("actor_id", identity.CallerFrom(r.Context()).UserID).
		Str("user_id", userID).
		Str("entity_id", entityID).
		Msg("grant revoked")
	w.WriteHeader(http.StatusNoContent)
}

type accountResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Admin       bool       `json:"admin"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

func toAccountResponse(a accounts.Account) accountResponse {
	return accountResponse{ID: a.ID, Email: a.Email, Admin: a.Admin, Confirmed: a.Confirmed, ConfirmedAt: a.ConfirmedAt}
}

type setAdminBody struct {
	Email string `json:"email"`
	Admin *bool  `json:"admin"`
}

func (h *Handler) handleSetAdmin(w http.ResponseWriter, r *http.Request) {
	var req setAdminBody
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Admin == nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "email and admin are required", nil)
		return
	}
	if !h.ensureAccounts(w) {
		return
	}

	acct, err := h.service.SetAdmin(r.Context(), identity.CallerFrom(r.Context()), req.Email, *req.Admin)
	if err != nil {
		h.writeDomainError(w, r, err, "set admin")
		return
	}
	h.writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

type confirmBody struct {
	Token string `json:"token"`
}

func (h *Handler) handleConfirmAccount(w http.ResponseWriter, r *http.Request) {
	var req confirmBody
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "token is required", nil)
		return
	}
	if !h.ensureAccounts(w) {
		return
	}

	acct, err := h.service.Confirm(r.Context(), identity.CallerFrom(r.Context()), req.Token)
	switch {
	case errors.Is(err, accounts.ErrAlreadyConfirmed):
		h.writeJSON(w, http.StatusOK, map[string]any{
			"account":           toAccountResponse(acct),
			"already_confirmed": true,
		})
	case err != nil:
		h.writeDomainError(w, r, err, "confirm account")
	default:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"account":           toAccountResponse(acct),
			"already_confirmed": false,
		})
	}
}
