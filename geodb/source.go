package geodb

import (
	"context"
	"net"
)

// Source identifiers. They double as the names of per-source directories
// under the root data directory and as the value of Result.Source.
const (
	// Identifier for MaxMind GeoLite2-City.
	NameMaxmind = "maxmind"

	// Identifier for the Chunzhen (qqwry) database.
	NameQQWry = "qqwry"
)

// Result is a set of location attributes resolved for a single address.
// String fields may be empty when the database has no value for them.
type Result struct {
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
	Timezone  string
	Source    string
}

// Source is a single geolocation database: it knows how to download its
// files into a directory, open them and answer lookups.
type Source interface {
	Name() string

	// BaseDirectory returns a directory this source keeps its files in.
	BaseDirectory() string

	// Download populates rootDir with a fresh copy of the database.
	// rootDir is temporary; Provisioner promotes it afterwards.
	Download(ctx context.Context, rootDir string) error

	// Open prepares the source for lookups using files in targetDir.
	Open(targetDir string) error

	// Lookup resolves a single address. It returns ErrDatabaseMissing
	// when Open was not called and ErrAddressNotFound when the database
	// has no record for the address.
	Lookup(ip net.IP) (Result, error)

	// Shutdown releases resources taken by Open.
	Shutdown()
}
