package authority

import "context"

func (s *Static) IsAdmin(_ context.Context, workspaceID uint64, principal string) (bool, error) {
	return s.admins[workspaceID][principal], nil
}
