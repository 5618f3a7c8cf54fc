package notifyapplicant

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"grant-workers/internal/common/auth"
	"grant-workers/internal/common/database"
	apperrors "grant-workers/internal/common/errors"
)

// ContactDirectory resolves a principal to contact details. Unknown
// principals yield nil without an error.
type ContactDirectory interface {
	Lookup(ctx context.Context, principal string) (*Contact, error)
}

const contactQuery = `SELECT COALESCE(display_name, ''), COALESCE(email, ''), COALESCE(phone, '') FROM principal_contacts WHERE principal = $1`

// PostgresContacts reads the principal_contacts table.
type PostgresContacts struct {
	pg *database.PostgresClient
}

func NewPostgresContacts(pg *database.PostgresClient) *PostgresContacts {
	return &PostgresContacts{pg: pg}
}

func (p *PostgresContacts) Lookup(ctx context.Context, principal string) (*Contact, error) {
	var c Contact
	err := p.pg.QueryRow(ctx, contactQuery, principal).Scan(&c.DisplayName, &c.Email, &c.Phone)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case errors.Is(err, context.DeadlineExceeded):
		return nil, apperrors.NewQueryTimeoutError("contact lookup")
	case err != nil:
		return nil, apperrors.NewQueryExecutionFailedError("contact lookup", err)
	}
	if c.DisplayName == "" {
		c.DisplayName = principal
	}
	return &c, nil
}

// UserGetter is the part of the Keycloak admin client used for contacts.
type UserGetter interface {
	GetUser(ctx context.Context, userID string) (*auth.User, error)
}

// KeycloakContacts reads e-mail and the phoneNumber attribute from Keycloak
// users. Principals are Keycloak user ids.
type KeycloakContacts struct {
	users UserGetter
}

func NewKeycloakContacts(users UserGetter) *KeycloakContacts {
	return &KeycloakContacts{users: users}
}

func (k *KeycloakContacts) Lookup(ctx context.Context, principal string) (*Contact, error) {
	user, err := k.users.GetUser(ctx, principal)
	if err != nil {
		if apperrors.Normalize(err).Code == apperrors.ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	if !user.Enabled {
		return nil, nil
	}

	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return &Contact{
		DisplayName: name,
		Email:       user.Email,
		Phone:       user.Attribute("phoneNumber"),
	}, nil
}
