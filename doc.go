// ip-checker resolves geographic metadata for IP addresses.
//
// It keeps local copies of two vendor databases: MaxMind GeoLite2-City,
// downloaded from download.maxmind.com with a license key, and the
// Chunzhen (qqwry) database in ipdb format, downloaded from a public
// mirror. Addresses can be looked up one at a time with --ip or in bulk
// with --excel, where an xlsx file of (sequence number, address) rows is
// annotated with country, region, city, coordinates and timezone and
// written back next to the input.
//
// The tool is organized into 2 logical parts:
//
// Geodb
//
// geodb provisions the databases (download, validation, atomic promotion
// of the downloaded files) and resolves addresses against them, qqwry
// first, GeoLite2 as a fallback.
//
// Batch
//
// batch reads the input workbook, resolves it row by row capturing
// per-row errors, and writes the annotated workbook.
package main
