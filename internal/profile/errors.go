package profile

import "codeberg.org/hvlab/dischargectl/internal/errors"

const (
	// Store errors
	ErrNotFound       = errors.ErrorCode("profile_not_found")
	ErrUnnamed        = errors.ErrorCode("profile_unnamed")
	ErrStoreAccess    = errors.ErrorCode("profile_store_access")
	ErrStoreMalformed = errors.ErrorCode("profile_store_malformed")
)
