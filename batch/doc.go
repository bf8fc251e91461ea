// Package batch turns a spreadsheet of IP addresses into a spreadsheet of
// locations.
//
// The expected input layout is a header row followed by rows whose first
// column is a sequence number and second column is an IP address. Every
// input row produces exactly one output row, in input order; rows that
// cannot be resolved carry the reason in an Error column instead of
// aborting the run.
package batch
