package models

import (
	"errors"
	"strings"
)

// Person is the identity shared by every academic actor.
type Person struct {
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}

var (
	errPersonNameRequired = errors.New("name must not be empty")
	errPersonEmailInvalid = errors.New("email is invalid")
)

// Normalize trims surrounding whitespace in place.
func (p *Person) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
}

// Validate checks the name is present and the email looks like an address.
func (p Person) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errPersonNameRequired
	}
	if strings.TrimSpace(p.Email) == "" || !strings.Contains(p.Email, "@") {
		return errPersonEmailInvalid
	}
	return nil
}

func (p Person) String() string {
	return p.Name + " (" + p.Email + ")"
}
