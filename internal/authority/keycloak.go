package authority

import (
	"context"
	"fmt"
	"strings"

	"grant-workers/internal/common/auth"
	apperrors "grant-workers/internal/common/errors"
)

// GroupLister is the part of the Keycloak admin client the provider needs.
type GroupLister interface {
	GetUserGroups(ctx context.Context, userID string) ([]auth.Group, error)
}

// Keycloak treats membership in the group named by pattern (a printf
// format taking the workspace id) as admin rights.
type Keycloak struct {
	groups  GroupLister
	pattern string
}

func NewKeycloak(groups GroupLister, pattern string) *Keycloak {
	if pattern == "" {
		pattern = "workspace-%d-admins"
	}
	return &Keycloak{groups: groups, pattern: pattern}
}

func (k *Keycloak) IsAdmin(ctx context.Context, workspaceID uint64, principal string) (bool, error) {
	groups, err := k.groups.GetUserGroups(ctx, principal)
	if err != nil {
		// unknown users administer nothing
		if apperrors.Normalize(err).Code == apperrors.ErrCodeNotFound {
			return false, nil
		}
		return false, err
	}

	want := fmt.Sprintf(k.pattern, workspaceID)
	for _, g := range groups {
		if g.Name == want || strings.TrimPrefix(g.Path, "/") == want {
			return true, nil
		}
	}
	return false, nil
}
