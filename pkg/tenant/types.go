package tenant

import "time"

// Node is a single tenant in the hierarchy. The path is immutable after
// creation; renaming a tenant changes only its display name.
type Node struct {
	Path      Path      `json:"path"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
