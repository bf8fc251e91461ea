package geodb

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	geoip2 "github.com/oschwald/geoip2-golang"
)

const (
	maxmindFileName    = "GeoLite2-City.mmdb"
	maxmindArchiveName = "archive.tar.gz"
	maxmindEditionID   = "GeoLite2-City"
)

var maxmindChecksumRegexp = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// MaxmindSource reads the GeoLite2-City database.
//
//   Identifier: maxmind
//   Website: https://maxmind.com
//
// A license key is required to download the database but not to look
// addresses up in an already provisioned copy.
type MaxmindSource struct {
	baseDirectory string
	licenseKey    string
	httpClient    HTTPClient
	db            *geoip2.Reader
}

func (m *MaxmindSource) Name() string {
	return NameMaxmind
}

func (m *MaxmindSource) BaseDirectory() string {
	return m.baseDirectory
}

func (m *MaxmindSource) Download(ctx context.Context, rootDir string) error {
	if m.licenseKey == "" {
		return ErrLicenseKeyRequired
	}

	expectedChecksum, err := m.downloadChecksum(ctx)
	if err != nil {
		return fmt.Errorf("cannot download a checksum: %w", err)
	}

	actualChecksum, err := m.downloadArchive(ctx, rootDir)
	if err != nil {
		return fmt.Errorf("cannot download an archive: %w", err)
	}

	if !strings.EqualFold(expectedChecksum, actualChecksum) {
		return fmt.Errorf("checksum mismatch. expected=%s, actual=%s",
			expectedChecksum,
			actualChecksum)
	}

	if err := m.extractArchive(rootDir); err != nil {
		return fmt.Errorf("cannot extract archive: %w", err)
	}

	return nil
}

func (m *MaxmindSource) downloadChecksum(ctx context.Context) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, m.buildURL("tar.gz.sha256"), nil)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot fetch checksum page: %w", err)
	}

	defer flushResponse(resp.Body)

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("cannot read body of the response: %w", err)
	}

	pos := bytes.IndexAny(data, " \t")
	if pos == -1 {
		return "", fmt.Errorf("incorrect checksum response format")
	}

	checksum := string(data[:pos])
	if !maxmindChecksumRegexp.MatchString(checksum) {
		return "", fmt.Errorf("incorrect checksum format")
	}

	return checksum, nil
}

func (m *MaxmindSource) downloadArchive(ctx context.Context, rootDir string) (string, error) {
	tarFile, err := os.Create(filepath.Join(rootDir, maxmindArchiveName))
	if err != nil {
		return "", fmt.Errorf("cannot create an archive file: %w", err)
	}

	defer tarFile.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, m.buildURL("tar.gz"), nil)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot download an archive: %w", err)
	}

	defer flushResponse(resp.Body)

	checksum, err := hashedCopyResponse(sha256.New, tarFile, resp.Body)
	if err != nil {
		return "", fmt.Errorf("cannot copy archive into fs: %w", err)
	}

	return checksum, nil
}

func (m *MaxmindSource) extractArchive(rootDir string) error {
	archiveFile, err := os.Open(filepath.Join(rootDir, maxmindArchiveName))
	if err != nil {
		return fmt.Errorf("cannot open archive: %w", err)
	}

	defer func() {
		archiveFile.Close()
		os.Remove(filepath.Join(rootDir, maxmindArchiveName)) // nolint: errcheck
	}()

	databaseFile, err := os.Create(filepath.Join(rootDir, maxmindFileName))
	if err != nil {
		return fmt.Errorf("cannot create a file for a database: %w", err)
	}

	defer databaseFile.Close()

	ungzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("cannot create a gzip reader: %w", err)
	}

	tarReader := tar.NewReader(ungzipReader)

	for {
		header, err := tarReader.Next()

		switch {
		case err == io.EOF:
			return ErrNoDatabaseInArchive
		case err != nil:
			return fmt.Errorf("cannot extract a header: %w", err)
		case header.Linkname != "", header.FileInfo().IsDir():
			continue
		case strings.EqualFold(filepath.Ext(header.Name), ".mmdb"):
			if _, err := io.Copy(databaseFile, tarReader); err != nil {
				return fmt.Errorf("cannot copy into a database file: %w", err)
			}

			return nil
		}
	}
}

func (m *MaxmindSource) buildURL(suffix string) string {
	queryValues := url.Values{}

	queryValues.Set("edition_id", maxmindEditionID)
	queryValues.Set("suffix", suffix)
	queryValues.Set("license_key", m.licenseKey)

	urlStruct := url.URL{
		Scheme:   "https",
		Host:     "download.maxmind.com",
		Path:     "/app/geoip_download",
		RawQuery: queryValues.Encode(),
	}

	return urlStruct.String()
}

func (m *MaxmindSource) Open(targetDir string) error {
	db, err := geoip2.Open(filepath.Join(targetDir, maxmindFileName))
	if err != nil {
		return fmt.Errorf("cannot open maxmind database: %w", err)
	}

	if m.db != nil {
		m.db.Close()
	}

	m.db = db

	return nil
}

func (m *MaxmindSource) Lookup(ip net.IP) (Result, error) {
	rv := Result{}

	if m.db == nil {
		return rv, ErrDatabaseMissing
	}

	record, err := m.db.City(ip)
	if err != nil {
		return rv, fmt.Errorf("cannot lookup this ip address: %w", err)
	}

	// geoip2 gives back a zero record, not an error, for addresses it has
	// no data for.
	if record.Country.IsoCode == "" && record.Location.TimeZone == "" {
		return rv, ErrAddressNotFound
	}

	rv.Country = record.Country.Names["en"]
	rv.City = record.City.Names["en"]
	rv.Latitude = record.Location.Latitude
	rv.Longitude = record.Location.Longitude
	rv.Timezone = record.Location.TimeZone
	rv.Source = NameMaxmind

	if len(record.Subdivisions) > 0 {
		rv.Region = record.Subdivisions[len(record.Subdivisions)-1].Names["en"]
	}

	return rv, nil
}

func (m *MaxmindSource) Shutdown() {
	if m.db != nil {
		m.db.Close()
		m.db = nil
	}
}

// NewMaxmind returns a source backed by the GeoLite2-City database.
// licenseKey may be empty if the source is only used for lookups.
func NewMaxmind(httpClient HTTPClient, baseDirectory, licenseKey string) *MaxmindSource {
	return &MaxmindSource{
		httpClient:    httpClient,
		baseDirectory: filepath.Clean(baseDirectory),
		licenseKey:    licenseKey,
	}
}
