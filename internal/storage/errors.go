package storage

import "fmt"

// ConflictKey names one of the two natural keys of the primary table.
type ConflictKey int

const (
	// KeyIdentity is UNIQUE(title, company, location, category).
	KeyIdentity ConflictKey = iota + 1
	// KeyLink is UNIQUE(link).
	KeyLink
)

func (k ConflictKey) String() string {
	switch k {
	case KeyIdentity:
		return "identity"
	case KeyLink:
		return "link"
	default:
		return fmt.Sprintf("ConflictKey(%d)", int(k))
	}
}

// ConflictError reports an insert rejected by a uniqueness rule.
type ConflictError struct {
	Key ConflictKey
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage: %s key conflict: %v", e.Key, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }
