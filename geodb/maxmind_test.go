package geodb_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io/ioutil"
	"math"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/suite"

	"github.com/PrinceFPF/ip-checker/geodb"
)

const (
	maxmindChecksumURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=apikey&suffix=tar.gz.sha256"
	maxmindArchiveURL  = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=apikey&suffix=tar.gz"
)

// mmdbWriter emits values in the MaxMind DB data section encoding.
type mmdbWriter struct {
	bytes.Buffer
}

func (w *mmdbWriter) str(s string) {
	w.WriteByte(0x40 | byte(len(s)))
	w.WriteString(s)
}

func (w *mmdbWriter) num(v uint32) {
	payload := []byte{}

	for ; v > 0; v >>= 8 {
		payload = append([]byte{byte(v)}, payload...)
	}

	w.WriteByte(0xc0 | byte(len(payload)))
	w.Write(payload)
}

func (w *mmdbWriter) double(v float64) {
	w.WriteByte(0x68)
	binary.Write(&w.Buffer, binary.BigEndian, math.Float64bits(v)) // nolint: errcheck
}

func (w *mmdbWriter) dict(pairs int) {
	w.WriteByte(0xe0 | byte(pairs))
}

func (w *mmdbWriter) list(items int) {
	w.WriteByte(byte(items))
	w.WriteByte(0x04)
}

type MaxmindTestSuite struct {
	MockedSourceTestSuite

	source *geodb.MaxmindSource
}

func (suite *MaxmindTestSuite) SetupTest() {
	suite.MockedSourceTestSuite.SetupTest()

	suite.source = geodb.NewMaxmind(suite.http, suite.tmpDir, "apikey")
}

func (suite *MaxmindTestSuite) makeArchive(fileName string, content []byte) ([]byte, string) {
	buf := &bytes.Buffer{}
	gzipWriter := gzip.NewWriter(buf)
	tarWriter := tar.NewWriter(gzipWriter)

	tarWriter.WriteHeader(&tar.Header{ // nolint: errcheck
		Typeflag: tar.TypeReg,
		Name:     fileName,
		Mode:     0o644,
		ModTime:  time.Now(),
		Size:     int64(len(content)),
	})
	tarWriter.Write(content) // nolint: errcheck
	tarWriter.Close()
	gzipWriter.Close()

	hasher := sha256.New()
	hasher.Write(buf.Bytes()) // nolint: errcheck

	return buf.Bytes(), hex.EncodeToString(hasher.Sum(nil))
}

// makeGeoLite2Database builds a tiny but well-formed GeoLite2-City
// database holding a single record for 8.8.8.8.
func (suite *MaxmindTestSuite) makeGeoLite2Database() []byte {
	const nodeCount = 32

	record := &mmdbWriter{}
	record.dict(4)
	record.str("city")
	record.dict(1)
	record.str("names")
	record.dict(1)
	record.str("en")
	record.str("Mountain View")
	record.str("country")
	record.dict(2)
	record.str("iso_code")
	record.str("US")
	record.str("names")
	record.dict(1)
	record.str("en")
	record.str("United States")
	record.str("location")
	record.dict(3)
	record.str("latitude")
	record.double(37.386)
	record.str("longitude")
	record.double(-122.0838)
	record.str("time_zone")
	record.str("America/Los_Angeles")
	record.str("subdivisions")
	record.list(1)
	record.dict(1)
	record.str("names")
	record.dict(1)
	record.str("en")
	record.str("California")

	// The search tree is a single chain of nodes following the bits of
	// 8.8.8.8, every other branch lands on the "no data" node value.
	ip := net.ParseIP("8.8.8.8").To4()
	tree := make([]byte, nodeCount*8)

	for i := 0; i < nodeCount; i++ {
		match := uint32(i + 1)
		if i == nodeCount-1 {
			// pointer past the 16-byte separator, to the record at
			// offset 0 of the data section
			match = nodeCount + 16
		}

		left, right := uint32(nodeCount), match
		if ip[i/8]>>(7-i%8)&1 == 0 {
			left, right = match, nodeCount
		}

		binary.BigEndian.PutUint32(tree[i*8:], left)
		binary.BigEndian.PutUint32(tree[i*8+4:], right)
	}

	meta := &mmdbWriter{}
	meta.dict(9)
	meta.str("binary_format_major_version")
	meta.num(2)
	meta.str("binary_format_minor_version")
	meta.num(0)
	meta.str("build_epoch")
	meta.num(1700000000)
	meta.str("database_type")
	meta.str("GeoLite2-City")
	meta.str("description")
	meta.dict(1)
	meta.str("en")
	meta.str("Test database")
	meta.str("ip_version")
	meta.num(4)
	meta.str("languages")
	meta.list(1)
	meta.str("en")
	meta.str("node_count")
	meta.num(nodeCount)
	meta.str("record_size")
	meta.num(32)

	buf := &bytes.Buffer{}
	buf.Write(tree)
	buf.Write(make([]byte, 16))
	buf.Write(record.Bytes())
	buf.WriteString("\xab\xcd\xefMaxMind.com")
	buf.Write(meta.Bytes())

	return buf.Bytes()
}

func (suite *MaxmindTestSuite) openDatabase(data []byte) {
	path := filepath.Join(suite.tmpDir, "GeoLite2-City.mmdb")

	suite.NoError(ioutil.WriteFile(path, data, 0o644))
	suite.NoError(suite.source.Open(suite.tmpDir))
}

func (suite *MaxmindTestSuite) TestName() {
	suite.Equal(geodb.NameMaxmind, suite.source.Name())
}

func (suite *MaxmindTestSuite) TestBaseDirectory() {
	suite.Equal(suite.tmpDir, suite.source.BaseDirectory())
}

func (suite *MaxmindTestSuite) TestDownloadWithoutLicenseKey() {
	source := geodb.NewMaxmind(suite.http, suite.tmpDir, "")

	err := source.Download(context.Background(), suite.tmpDir)

	suite.ErrorIs(err, geodb.ErrLicenseKeyRequired)
}

func (suite *MaxmindTestSuite) TestCannotDownloadChecksumBadStatus() {
	httpmock.RegisterResponder("GET", maxmindChecksumURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	suite.Error(suite.source.Download(context.Background(), suite.tmpDir))
}

func (suite *MaxmindTestSuite) TestCannotDownloadChecksumBadResponseFormat() {
	httpmock.RegisterResponder("GET", maxmindChecksumURL,
		httpmock.NewStringResponder(http.StatusOK, "???"))

	suite.Error(suite.source.Download(context.Background(), suite.tmpDir))
}

func (suite *MaxmindTestSuite) TestChecksumMismatch() {
	archive, _ := suite.makeArchive("file.mmdb", []byte("hello"))

	httpmock.RegisterResponder("GET", maxmindChecksumURL,
		httpmock.NewStringResponder(http.StatusOK,
			"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824 GeoLite2-City.tar.gz"))
	httpmock.RegisterResponder("GET", maxmindArchiveURL,
		httpmock.NewBytesResponder(http.StatusOK, archive))

	suite.Error(suite.source.Download(context.Background(), suite.tmpDir))
}

func (suite *MaxmindTestSuite) TestNoDatabaseInArchive() {
	archive, checksum := suite.makeArchive("file.txt", []byte("hello"))

	httpmock.RegisterResponder("GET", maxmindChecksumURL,
		httpmock.NewStringResponder(http.StatusOK,
			checksum+" GeoLite2-City.tar.gz"))
	httpmock.RegisterResponder("GET", maxmindArchiveURL,
		httpmock.NewBytesResponder(http.StatusOK, archive))

	err := suite.source.Download(context.Background(), suite.tmpDir)

	suite.ErrorIs(err, geodb.ErrNoDatabaseInArchive)
}

func (suite *MaxmindTestSuite) TestDownloadOk() {
	archive, checksum := suite.makeArchive("file.mmdb", []byte("hello"))

	httpmock.RegisterResponder("GET", maxmindChecksumURL,
		httpmock.NewStringResponder(http.StatusOK,
			checksum+" GeoLite2-City.tar.gz"))
	httpmock.RegisterResponder("GET", maxmindArchiveURL,
		httpmock.NewBytesResponder(http.StatusOK, archive))

	suite.NoError(suite.source.Download(context.Background(), suite.tmpDir))

	data, err := ioutil.ReadFile(filepath.Join(suite.tmpDir, "GeoLite2-City.mmdb"))

	suite.NoError(err)
	suite.Equal("hello", string(data))
}

func (suite *MaxmindTestSuite) TestLookupBeforeOpen() {
	_, err := suite.source.Lookup(net.ParseIP("8.8.8.8"))

	suite.ErrorIs(err, geodb.ErrDatabaseMissing)
}

func (suite *MaxmindTestSuite) TestLookupHit() {
	suite.openDatabase(suite.makeGeoLite2Database())

	defer suite.source.Shutdown()

	result, err := suite.source.Lookup(net.ParseIP("8.8.8.8"))

	suite.NoError(err)
	suite.Equal(geodb.Result{
		Country:   "United States",
		Region:    "California",
		City:      "Mountain View",
		Latitude:  37.386,
		Longitude: -122.0838,
		Timezone:  "America/Los_Angeles",
		Source:    geodb.NameMaxmind,
	}, result)
}

func (suite *MaxmindTestSuite) TestLookupMiss() {
	suite.openDatabase(suite.makeGeoLite2Database())

	defer suite.source.Shutdown()

	_, err := suite.source.Lookup(net.ParseIP("8.8.4.4"))

	suite.ErrorIs(err, geodb.ErrAddressNotFound)
}

func (suite *MaxmindTestSuite) TestOpenCorruptFile() {
	path := filepath.Join(suite.tmpDir, "GeoLite2-City.mmdb")
	suite.NoError(ioutil.WriteFile(path, []byte("garbage"), 0o644))

	suite.Error(suite.source.Open(suite.tmpDir))
}

func (suite *MaxmindTestSuite) TestDownloadThenLookup() {
	archive, checksum := suite.makeArchive("GeoLite2-City.mmdb", suite.makeGeoLite2Database())

	httpmock.RegisterResponder("GET", maxmindChecksumURL,
		httpmock.NewStringResponder(http.StatusOK,
			checksum+" GeoLite2-City.tar.gz"))
	httpmock.RegisterResponder("GET", maxmindArchiveURL,
		httpmock.NewBytesResponder(http.StatusOK, archive))

	suite.NoError(suite.source.Download(context.Background(), suite.tmpDir))
	suite.NoError(suite.source.Open(suite.tmpDir))

	defer suite.source.Shutdown()

	result, err := suite.source.Lookup(net.ParseIP("8.8.8.8"))

	suite.NoError(err)
	suite.Equal("United States", result.Country)
	suite.Equal("America/Los_Angeles", result.Timezone)
}

func TestMaxmind(t *testing.T) {
	suite.Run(t, &MaxmindTestSuite{})
}
