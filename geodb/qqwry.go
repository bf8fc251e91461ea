package geodb

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	ipdb "github.com/ipipdotnet/ipdb-go"
)

const (
	qqwryFileName = "qqwry.ipdb"

	// DefaultQQWryURL is a mirror of the Chunzhen database converted to the
	// ipdb format.
	DefaultQQWryURL = "https://raw.gitmirror.com/nmgliangwei/qqwry.ipdb/main/qqwry.ipdb"

	qqwryLanguage = "CN"
	qqwryUnknown  = "未知"

	// A real qqwry.ipdb is tens of megabytes; anything below this size is
	// an error page, not a database.
	qqwryMinFileSize = 1 << 20
)

// QQWrySource reads the Chunzhen (纯真) database in ipdb format. It knows
// Chinese address space in much finer detail than GeoLite2, so Resolver
// puts it first.
//
//   Identifier: qqwry
type QQWrySource struct {
	baseDirectory string
	downloadURL   string
	httpClient    HTTPClient
	db            *ipdb.City
}

func (q *QQWrySource) Name() string {
	return NameQQWry
}

func (q *QQWrySource) BaseDirectory() string {
	return q.baseDirectory
}

func (q *QQWrySource) Download(ctx context.Context, rootDir string) error {
	path := filepath.Join(rootDir, qqwryFileName)

	fp, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create a file for a database: %w", err)
	}

	defer fp.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, q.downloadURL, nil)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot download a database: %w", err)
	}

	defer flushResponse(resp.Body)

	if err := copyResponse(fp, resp.Body); err != nil {
		return fmt.Errorf("cannot copy database into fs: %w", err)
	}

	if err := q.validate(path); err != nil {
		os.Remove(path) // nolint: errcheck
		return err
	}

	return nil
}

// validate checks that the downloaded file has a plausible ipdb shape: a
// minimal size and a 4-byte big-endian metadata length in the header.
func (q *QQWrySource) validate(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat downloaded file: %w", err)
	}

	if stat.Size() < qqwryMinFileSize {
		return fmt.Errorf("%w: file is too small (%d bytes)", ErrInvalidDatabase, stat.Size())
	}

	fp, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open downloaded file: %w", err)
	}

	defer fp.Close()

	header := make([]byte, 4)
	if _, err := fp.Read(header); err != nil {
		return fmt.Errorf("%w: cannot read a header", ErrInvalidDatabase)
	}

	metaLength := binary.BigEndian.Uint32(header)
	if metaLength == 0 || metaLength >= qqwryMinFileSize {
		return fmt.Errorf("%w: implausible metadata length %d", ErrInvalidDatabase, metaLength)
	}

	return nil
}

func (q *QQWrySource) Open(targetDir string) error {
	db, err := ipdb.NewCity(filepath.Join(targetDir, qqwryFileName))
	if err != nil {
		return fmt.Errorf("cannot open qqwry database: %w", err)
	}

	q.db = db

	return nil
}

func (q *QQWrySource) Lookup(ip net.IP) (Result, error) {
	rv := Result{}

	if q.db == nil {
		return rv, ErrDatabaseMissing
	}

	record, err := q.db.FindMap(ip.String(), qqwryLanguage)
	if err != nil {
		// ipdb fails lookups it has no coverage for, including the whole
		// IPv6 space for IPv4-only builds.
		return rv, ErrAddressNotFound
	}

	if record["country_name"] == "" || record["country_name"] == qqwryUnknown {
		return rv, ErrAddressNotFound
	}

	rv.Country = record["country_name"]
	rv.Region = record["region_name"]
	rv.City = record["city_name"]
	rv.Timezone = record["timezone"]
	rv.Source = NameQQWry

	if v, err := strconv.ParseFloat(record["latitude"], 64); err == nil {
		rv.Latitude = v
	}

	if v, err := strconv.ParseFloat(record["longitude"], 64); err == nil {
		rv.Longitude = v
	}

	return rv, nil
}

func (q *QQWrySource) Shutdown() {
	q.db = nil
}

// NewQQWry returns a source backed by the Chunzhen database. downloadURL
// may be empty, then DefaultQQWryURL is used.
func NewQQWry(httpClient HTTPClient, baseDirectory, downloadURL string) *QQWrySource {
	if downloadURL == "" {
		downloadURL = DefaultQQWryURL
	}

	return &QQWrySource{
		httpClient:    httpClient,
		baseDirectory: filepath.Clean(baseDirectory),
		downloadURL:   downloadURL,
	}
}
