package domain

// Permission names one grant a caller holds on a dataset.
type Permission string

// Dataset permissions checked by the gateway.
const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Token is the validated identity of a caller: the user it belongs to,
// the teams the user is a member of, and the permissions granted per
// dataset. The engine only reads Grants to authorize stream opens.
type Token struct {
	UserID  string
	TeamIDs []string
	Grants  map[string][]Permission
}

// MemberOf reports whether the token's user belongs to the team.
func (t *Token) MemberOf(teamID string) bool {
	for _, id := range t.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// CanRead reports whether the token grants read access to the dataset.
func (t *Token) CanRead(dataset string) bool {
	for _, p := range t.Grants[dataset] {
		if p == PermissionRead {
			return true
		}
	}
	return false
}
