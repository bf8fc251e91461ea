package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/hjson/hjson-go"

	"github.com/PrinceFPF/ip-checker/geodb"
)

const (
	DefaultHTTPTimeout       = 2 * time.Minute
	DefaultRateLimitInterval = 100 * time.Millisecond
	DefaultRateLimitBurst    = 10
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var v interface{}

	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("cannot unmarshal duration: %w", err)
	}

	vv, ok := v.(string)
	if !ok {
		return fmt.Errorf("incorrect duration: %v", v)
	}

	dur, err := time.ParseDuration(vv)
	if err != nil {
		return fmt.Errorf("cannot parse duration: %w", err)
	}

	d.Duration = dur

	return nil
}

type config struct {
	RootDirectory     string   `json:"root_directory"`
	HTTPTimeout       duration `json:"http_timeout"`
	RateLimitInterval duration `json:"rate_limit_interval"`
	RateLimitBurst    uint     `json:"rate_limit_burst"`
	UserAgent         string   `json:"user_agent"`
	QQWryURL          string   `json:"qqwry_url"`
	QQWryProxy        string   `json:"qqwry_proxy"`
}

func (c config) GetRootDirectory() string {
	if c.RootDirectory != "" {
		return c.RootDirectory
	}

	if cacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheDir, "ip-checker")
	}

	return filepath.Join(os.TempDir(), "ip-checker")
}

func (c config) GetHTTPTimeout() time.Duration {
	if c.HTTPTimeout.Duration == 0 {
		return DefaultHTTPTimeout
	}

	return c.HTTPTimeout.Duration
}

func (c config) GetRateLimitInterval() time.Duration {
	if c.RateLimitInterval.Duration == 0 {
		return DefaultRateLimitInterval
	}

	return c.RateLimitInterval.Duration
}

func (c config) GetRateLimitBurst() int {
	if c.RateLimitBurst == 0 {
		return DefaultRateLimitBurst
	}

	return int(c.RateLimitBurst)
}

func (c config) GetUserAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}

	return "ip-checker/" + version
}

func (c config) GetQQWryURL() string {
	if c.QQWryURL != "" {
		return c.QQWryURL
	}

	return geodb.DefaultQQWryURL
}

func (c config) GetQQWryProxy() string {
	return c.QQWryProxy
}

func parseConfig(path string) (*config, error) {
	conf := &config{}

	if path == "" {
		return conf, nil
	}

	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file: %w", err)
	}

	rawMap := map[string]interface{}{}

	if err := hjson.Unmarshal(content, &rawMap); err != nil {
		return nil, fmt.Errorf("cannot parse json: %w", err)
	}

	rawBytes, _ := json.Marshal(rawMap)

	if err := json.Unmarshal(rawBytes, conf); err != nil {
		return nil, fmt.Errorf("cannot process config: %w", err)
	}

	return conf, nil
}
