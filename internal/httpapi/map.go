package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/hierarchy"
	"carbonmap/core-go/internal/identity"
)

type mapEntity struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	IsPrimary bool            `json:"is_primary"`
	ParentID  *string         `json:"parent_id"`
	Geometry  json.RawMessage `json:"geometry"`
}

func toMapEntity(e hierarchy.Entity) mapEntity {
	return mapEntity{
		ID:        e.ID,
		Name:      e.Name,
		IsPrimary: e.Primary,
		ParentID:  e.ParentID,
		Geometry:  e.Geometry,
	}
}

// revealParams collects expanded ids from both ?reveal=a&reveal=b and the
// bracketed ?reveal[]=a form browsers produce for arrays.
func revealParams(r *http.Request) []string {
	q := r.URL.Query()
	raw := append(q["reveal"], q["reveal[]"]...)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (h *Handler) handleMapView(w http.ResponseWriter, r *http.Request) {
	state, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	visible := hierarchy.ResolveVisible(state.Forest, revealParams(r))
	resp := make([]mapEntity, 0, visible.Len())
	for _, id := range visible.Sorted() {
		e, ok := state.Forest.Get(id)
		if !ok {
			continue
		}
		resp = append(resp, toMapEntity(e))
	}
	h.metrics.ObserveVisibleEntities(len(resp))

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePopupOptions(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("entity_id"))
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "entity_id is required", nil)
		return
	}

	if !h.ensureCatalog(w) {
		return
	}

	view, err := h.popups.Build(r.Context(), identity.CallerFrom(r.Context()), id)
	if err != nil {
		h.writeDomainError(w, r, err, "build popup")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleMyEntities(w http.ResponseWriter, r *http.Request) {
	state, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	rows, err := h.resolver.Effective(state.Forest, state.Grants, identity.CallerFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err, "list effective grants")
		return
	}
	if rows == nil {
		rows = []access.EffectiveEntity{}
	}
	h.writeJSON(w, http.StatusOK, rows)
}
