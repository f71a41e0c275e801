package hierarchy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("entity not found")
	ErrDuplicate          = errors.New("entity already exists")
	ErrCycle              = errors.New("parent assignment would create a cycle")
	ErrInvalidEntity      = errors.New("invalid entity")
	ErrInvariantViolation = errors.New("hierarchy invariant violated")
)

const maxIDLength = 255

// Entity is a node in the institutional hierarchy.
//
// Metadata and Geometry are treated as immutable once the entity is part of a
// Forest; callers must copy before mutating.
type Entity struct {
	ID       string
	ParentID *string
	Primary  bool
	Name     string
	Metadata map[string]any
	Geometry json.RawMessage
}

func (e Entity) IsRoot() bool {
	return e.ParentID == nil
}

// Parent returns the parent id, or "" for roots.
func (e Entity) Parent() string {
	if e.ParentID == nil {
		return ""
	}
	return *e.ParentID
}

// Validate checks the entity in isolation; forest-level rules (parent exists,
// no cycles) are enforced by NewForest.
func (e Entity) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidEntity, e.ID)
	}
	if e.ParentID != nil {
		if err := ValidateID(*e.ParentID); err != nil {
			return fmt.Errorf("%w (parent of %s)", err, e.ID)
		}
		if *e.ParentID == e.ID {
			return fmt.Errorf("%w: %s is its own parent", ErrCycle, e.ID)
		}
	}
	for k, v := range e.Metadata {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: %s: empty metadata key", ErrInvalidEntity, e.ID)
		}
		if !isScalar(v) {
			return fmt.Errorf("%w: %s: metadata %q must be a scalar, got %T", ErrInvalidEntity, e.ID, k, v)
		}
	}
	if len(e.Geometry) > 0 && !json.Valid(e.Geometry) {
		return fmt.Errorf("%w: %s: geometry is not valid json", ErrInvalidEntity, e.ID)
	}
	return nil
}

// ValidateID accepts lowercase reverse-DNS style identifiers such as
// "uk.ac.cam.kings".
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id longer than %d bytes", ErrInvalidEntity, maxIDLength)
	}
	for _, label := range strings.Split(id, ".") {
		if label == "" {
			return fmt.Errorf("%w: id %q has an empty label", ErrInvalidEntity, id)
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return fmt.Errorf("%w: id %q contains %q", ErrInvalidEntity, id, r)
			}
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}
