package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/PrinceFPF/ip-checker/geodb"
)

func makeRootContext() (context.Context, context.CancelFunc) {
	rootCtx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)

	go func() {
		for range sigChan {
			cancel()
		}
	}()

	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	return rootCtx, cancel
}

func makeHTTPClient(conf *config, proxy string) (geodb.HTTPClient, error) {
	httpClient := &http.Client{
		Timeout: conf.GetHTTPTimeout(),
	}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("cannot parse proxy url: %w", err)
		}

		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		}
	}

	return geodb.NewHTTPClient(httpClient,
		conf.GetUserAgent(),
		conf.GetRateLimitInterval(),
		conf.GetRateLimitBurst()), nil
}

func sourceDir(conf *config, name string) string {
	return filepath.Join(conf.GetRootDirectory(), name)
}
