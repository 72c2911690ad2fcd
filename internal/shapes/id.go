package shapes

import "github.com/google/uuid"

// IDFunc adapts a plain function to IDProvider.
type IDFunc func() (string, error)

// NewID calls f.
func (f IDFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider issues time-ordered UUIDv7 identifiers, so audit rows
// sort by application time.
func NewUUIDProvider() IDProvider {
	return IDFunc(func() (string, error) {
		value, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return value.String(), nil
	})
}
