package geodb_test

import (
	"io/ioutil"
	"net/http"
	"os"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/suite"

	"github.com/PrinceFPF/ip-checker/geodb"
)

type SourceTestSuite struct {
	suite.Suite

	http   geodb.HTTPClient
	tmpDir string
}

func (suite *SourceTestSuite) SetupTest() {
	suite.http = geodb.NewHTTPClient(&http.Client{},
		"test-agent",
		time.Millisecond,
		100)

	dir, err := ioutil.TempDir("", "ip_checker_test_")
	if err != nil {
		panic(err)
	}

	suite.tmpDir = dir
}

func (suite *SourceTestSuite) TearDownTest() {
	os.RemoveAll(suite.tmpDir)
}

type MockedSourceTestSuite struct {
	SourceTestSuite
}

func (suite *MockedSourceTestSuite) SetupSuite() {
	httpmock.Activate()
}

func (suite *MockedSourceTestSuite) TearDownSuite() {
	httpmock.DeactivateAndReset()
}

func (suite *MockedSourceTestSuite) TearDownTest() {
	suite.SourceTestSuite.TearDownTest()
	httpmock.Reset()
}
