package geodb

import "errors"

var (
	// ErrLicenseKeyRequired is returned when a download needs a vendor
	// credential but none was given.
	ErrLicenseKeyRequired = errors.New("license key is required")

	// ErrDatabaseMissing is returned when a lookup is attempted before the
	// database was provisioned.
	ErrDatabaseMissing = errors.New("database is not provisioned")

	// ErrNoDatabaseInArchive is returned when a downloaded archive does not
	// contain a database file.
	ErrNoDatabaseInArchive = errors.New("cannot find a database file in downloaded archive")

	// ErrInvalidDatabase is returned when a downloaded file does not look
	// like a database of the expected format.
	ErrInvalidDatabase = errors.New("downloaded file is not a valid database")

	// ErrAddressNotFound is returned when an address is valid but no
	// database has a record for it. Callers treat this as a per-address
	// condition, not a failure of the whole run.
	ErrAddressNotFound = errors.New("address was not found in the database")
)
