// Package geodb provisions local copies of IP geolocation databases and
// resolves addresses against them.
//
// Two sources are supported: the MaxMind GeoLite2-City database, downloaded
// from download.maxmind.com with a license key, and the Chunzhen (qqwry)
// database in ipdb format, downloaded from a public mirror. Each source
// keeps its files in its own base directory, inside a target directory
// whose name embeds a checksum of the contents. Updates download into a
// temporary directory and rename it into place, so a failed download never
// disturbs the current copy and re-downloading identical content is a
// no-op.
//
// Resolver consults sources in the order given (qqwry answers take
// precedence for Chinese address space, GeoLite2 covers the rest) and
// caches results per address.
package geodb
