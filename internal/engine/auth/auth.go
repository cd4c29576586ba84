package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"pillarline/internal/catalog"
	"pillarline/internal/domain"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// ForbiddenError indicates the user may not act on a product.
type ForbiddenError struct {
	Username string
	Action   string
	Entity   string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("user %s may not %s products of entity %s", e.Username, e.Action, e.Entity)
}

// Service authenticates against the static user list of the catalogue.
type Service struct {
	Catalog *catalog.Catalog
}

// Authenticate returns the user without its password when the credentials match.
func (s Service) Authenticate(username, password string) (domain.User, error) {
	u, err := s.Catalog.User(username)
	if err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
		return domain.User{}, ErrInvalidCredentials
	}
	return u.Public(), nil
}

// Lookup resolves a trusted username, as carried by a verified token or a local CLI flag.
func (s Service) Lookup(username string) (domain.User, error) {
	u, err := s.Catalog.User(username)
	if err != nil {
		return domain.User{}, err
	}
	return u.Public(), nil
}

// Authorize returns a ForbiddenError unless u may act on p.
func Authorize(u domain.User, action string, p domain.Product) error {
	if u.CanSee(p) {
		return nil
	}
	return ForbiddenError{Username: u.Username, Action: action, Entity: p.Entity}
}

// AuthorizeEntity guards creation: only admins write outside their own entity.
func AuthorizeEntity(u domain.User, action, entity string) error {
	if u.IsAdmin() || u.Entity == entity {
		return nil
	}
	return ForbiddenError{Username: u.Username, Action: action, Entity: entity}
}
