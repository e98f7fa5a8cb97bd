package domain

import "time"

// User is an authenticated principal. Team membership, manager link and
// the admin flag feed the permission evaluator through UserContext.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	TeamIDs      []string  `json:"team_ids"`
	ManagerID    string    `json:"manager_id,omitempty"`
	SystemAdmin  bool      `json:"system_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserList represents a paginated list of users.
type UserList struct {
	Items      []*User `json:"items"`
	TotalCount int     `json:"total_count"`
}

// Context builds the caller identity snapshot used by every operation.
func (u *User) Context() UserContext {
	teams := make([]string, len(u.TeamIDs))
	copy(teams, u.TeamIDs)
	return UserContext{
		UserID:      u.ID,
		TeamIDs:     teams,
		SystemAdmin: u.SystemAdmin,
		ManagerID:   u.ManagerID,
	}
}
