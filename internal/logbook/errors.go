package logbook

import "codeberg.org/hvlab/dischargectl/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidPath   = errors.ErrorCode("logbook_invalid_path")

	// Schema errors
	ErrSchemaInitFailed       = errors.ErrorCode("logbook_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("logbook_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("logbook_schema_migration_failed")

	// Storage errors
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageAccess = errors.ErrorCode("logbook_storage_access")
	ErrStorageClose  = errors.ErrShutdownFailed

	// Query errors
	ErrNotFound = errors.ErrorCode("logbook_not_found")
)
