package seed

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/accounts"
	"carbonmap/core-go/internal/hierarchy"
)

// Fixture is a parsed seed document, ready for catalog.NewMemory and
// accounts.NewMemoryStore.
type Fixture struct {
	Entities []hierarchy.Entity
	Accounts []accounts.Account
	Grants   []access.Grant
}

type document struct {
	Entities []entityDoc  `yaml:"entities"`
	Accounts []accountDoc `yaml:"accounts"`
	Grants   []grantDoc   `yaml:"grants"`
}

type entityDoc struct {
	ID       string         `yaml:"id"`
	ParentID string         `yaml:"parent_id"`
	Primary  bool           `yaml:"primary"`
	Name     string         `yaml:"name"`
	Metadata map[string]any `yaml:"metadata"`
	Geometry any            `yaml:"geometry"`
}

type accountDoc struct {
	ID           string    `yaml:"id"`
	Email        string    `yaml:"email"`
	Name         string    `yaml:"name"`
	Org          string    `yaml:"org"`
	UserType     string    `yaml:"user_type"`
	Admin        bool      `yaml:"admin"`
	Confirmed    bool      `yaml:"confirmed"`
	RegisteredAt time.Time `yaml:"registered_at"`
}

type grantDoc struct {
	UserID     string `yaml:"user_id"`
	EntityID   string `yaml:"entity_id"`
	Permission string `yaml:"permission"`
}

func Load(path string) (Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read seed file: %w", err)
	}
	fx, err := Parse(b)
	if err != nil {
		return Fixture{}, fmt.Errorf("%s: %w", path, err)
	}
	return fx, nil
}

// Parse decodes a seed document. Entities and grants are validated one by
// one; forest-level checks happen when the fixture is loaded into a catalog.
func Parse(b []byte) (Fixture, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Fixture{}, fmt.Errorf("decode seed: %w", err)
	}

	fx := Fixture{
		Entities: make([]hierarchy.Entity, 0, len(doc.Entities)),
		Accounts: make([]accounts.Account, 0, len(doc.Accounts)),
		Grants:   make([]access.Grant, 0, len(doc.Grants)),
	}

	for i, d := range doc.Entities {
		e := hierarchy.Entity{ID: d.ID, Primary: d.Primary, Name: d.Name, Metadata: d.Metadata}
		if d.ParentID != "" {
			parent := d.ParentID
			e.ParentID = &parent
		}
		if d.Geometry != nil {
			geom, err := json.Marshal(d.Geometry)
			if err != nil {
				return Fixture{}, fmt.Errorf("entities[%d] %s: geometry: %w", i, d.ID, err)
			}
			e.Geometry = geom
		}
		if err := e.Validate(); err != nil {
			return Fixture{}, fmt.Errorf("entities[%d]: %w", i, err)
		}
		fx.Entities = append(fx.Entities, e)
	}

	for i, d := range doc.Accounts {
		if _, err := uuid.Parse(d.ID); err != nil {
			return Fixture{}, fmt.Errorf("accounts[%d]: id %q is not a uuid", i, d.ID)
		}
		if d.Email == "" {
			return Fixture{}, fmt.Errorf("accounts[%d]: email is required", i)
		}
		a := accounts.Account{
			ID:           d.ID,
			Email:        d.Email,
			Name:         d.Name,
			Org:          d.Org,
			UserType:     d.UserType,
			Admin:        d.Admin,
			RegisteredAt: d.RegisteredAt,
		}
		if a.RegisteredAt.IsZero() {
			a.RegisteredAt = time.Now().UTC()
		}
		if d.Confirmed {
			confirmed, _ := a.Confirm(a.RegisteredAt)
			a = confirmed
		}
		fx.Accounts = append(fx.Accounts, a)
	}

	for i, d := range doc.Grants {
		p, err := access.ParsePermission(d.Permission)
		if err != nil {
			return Fixture{}, fmt.Errorf("grants[%d]: %w", i, err)
		}
		g := access.Grant{UserID: d.UserID, EntityID: d.EntityID, Permission: p}
		if err := g.Validate(); err != nil {
			return Fixture{}, fmt.Errorf("grants[%d]: %w", i, err)
		}
		fx.Grants = append(fx.Grants, g)
	}

	return fx, nil
}
