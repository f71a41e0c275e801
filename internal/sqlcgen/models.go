package sqlcgen

import "time"

type Entity struct {
	ID        string
	ParentID  *string
	IsPrimary bool
	Name      string
	Metadata  map[string]any
	Geometry  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Grant struct {
	UserID     string
	EntityID   string
	Permission string
	UpdatedAt  time.Time
}

type Account struct {
	ID           string
	Email        string
	Name         string
	Org          string
	UserType     string
	Admin        bool
	Confirmed    bool
	ConfirmedOn  *time.Time
	RegisteredOn time.Time
}
