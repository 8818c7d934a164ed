package schema

// DBStatus describes the relation between a database's persisted schema
// revision and the revision this binary was built with.
type DBStatus int

// Database status values. Only OK permits serving queries directly;
// MismatchOK additionally requires an administrator-triggered upgrade.
const (
	// StatusOK means the persisted revision equals the embedded revision.
	StatusOK DBStatus = iota

	// StatusMissing means the database itself is unreachable or absent.
	StatusMissing

	// StatusMismatchOK means the schema is older but forward-migratable.
	StatusMismatchOK

	// StatusMismatchNo means the schema is newer than this binary knows.
	StatusMismatchNo

	// StatusSchemaMissing means the database exists but holds no schema.
	StatusSchemaMissing

	// StatusInitError means initializing a fresh schema failed.
	StatusInitError

	// StatusUpgradeFailed means a migration was left dirty.
	StatusUpgradeFailed

	// StatusFailedToConnect means the connection could not be established.
	StatusFailedToConnect
)

// String returns the canonical name of the status.
func (s DBStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusMissing:
		return "MISSING"
	case StatusMismatchOK:
		return "SCHEMA_MISMATCH_OK"
	case StatusMismatchNo:
		return "SCHEMA_MISMATCH_NO"
	case StatusSchemaMissing:
		return "SCHEMA_MISSING"
	case StatusInitError:
		return "SCHEMA_INIT_ERROR"
	case StatusUpgradeFailed:
		return "SCHEMA_UPGRADE_FAILED"
	case StatusFailedToConnect:
		return "FAILED_TO_CONNECT"
	default:
		return "UNKNOWN"
	}
}

// Serveable reports whether queries may be answered in this state.
// MismatchOK databases serve queries only after an explicit upgrade.
func (s DBStatus) Serveable() bool {
	return s == StatusOK
}

// Upgradeable reports whether an administrator-triggered upgrade applies.
func (s DBStatus) Upgradeable() bool {
	return s == StatusMismatchOK || s == StatusSchemaMissing
}
