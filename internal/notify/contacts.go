package notify

import (
	"context"
	"errors"

	"github.com/orrn/printdesk/internal/db"
)

// ContactResolver looks up where an owner wants to be reached.
type ContactResolver interface {
	Contact(ctx context.Context, ownerID string) (email, phone string, err error)
}

type DBContacts struct {
	ops *db.ContactOperations
}

func NewDBContacts(ops *db.ContactOperations) *DBContacts {
	return &DBContacts{ops: ops}
}

// Contact returns empty values for owners with nothing on file.
func (c *DBContacts) Contact(ctx context.Context, ownerID string) (string, string, error) {
	contact, err := c.ops.GetContact(ctx, ownerID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", "", nil
		}
		return "", "", err
	}
	return contact.Email, contact.Phone, nil
}
