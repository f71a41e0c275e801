package access

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPermission = errors.New("invalid permission")

// Permission is the edit scope a user holds over an entity. Values are
// totally ordered: None < Emissions < Metadata, and a Metadata grant implies
// the ability to edit emissions.
type Permission uint8

const (
	None Permission = iota
	Emissions
	Metadata
)

var permissionNames = [...]string{
	None:      "none",
	Emissions: "emissions",
	Metadata:  "metadata",
}

func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return None, nil
	case "emissions":
		return Emissions, nil
	case "metadata":
		return Metadata, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
}

func (p Permission) Valid() bool {
	return p <= Metadata
}

func (p Permission) String() string {
	if !p.Valid() {
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
	return permissionNames[p]
}

// AtLeast reports whether p covers q.
func (p Permission) AtLeast(q Permission) bool {
	return p >= q
}

func (p Permission) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPermission, uint8(p))
	}
	return []byte(permissionNames[p]), nil
}

func (p *Permission) UnmarshalText(b []byte) error {
	v, err := ParsePermission(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
