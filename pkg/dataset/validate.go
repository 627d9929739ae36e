package dataset

import (
	"fmt"
	"net/mail"
	"strings"
)

// ValidateMetadata checks the minimum metadata contract for upload start:
// title, author, and a parseable email address are required regardless of
// model version. Returns an error wrapping ErrValidation naming every missing
// field so clients can fix the container in one round trip.
func ValidateMetadata(d *Dataset) error {
	var missing []string
	if strings.TrimSpace(d.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(d.Author) == "" {
		missing = append(missing, "author")
	}
	if strings.TrimSpace(d.Email) == "" {
		missing = append(missing, "email")
	} else if _, err := mail.ParseAddress(d.Email); err != nil {
		return fmt.Errorf("%w: email %q is not a valid address", ErrValidation, d.Email)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: required fields missing: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if d.ContainerType.Name == "" {
		return fmt.Errorf("%w: containerType.name is required", ErrValidation)
	}
	return nil
}
