package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"coinpulse/internal/market/store"
)

// Upstream names.
const (
	CoinGecko = "coingecko"
	FearGreed = "feargreed"
)

type Upstream struct {
	Name    string
	BaseURL string
}

// URL joins the base URL with endpoint and the normalized params.
func (u Upstream) URL(endpoint string, params url.Values) (string, error) {
	base, err := parseBaseURL(u.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q for upstream %q: %w", u.BaseURL, u.Name, err)
	}
	path, q := store.Normalize(endpoint, params)

	target := *base
	target.Path = singleJoinPath(base.Path, path)
	target.RawQuery = q.Encode()
	return target.String(), nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	baseURL := strings.TrimSpace(raw)
	if baseURL == "" {
		return nil, fmt.Errorf("empty url")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	return url.Parse(baseURL)
}

func singleJoinPath(a, b string) string {
	if a == "" && b == "" {
		return "/"
	}
	if a == "" {
		if !strings.HasPrefix(b, "/") {
			return "/" + b
		}
		return b
	}
	if b == "" {
		if !strings.HasPrefix(a, "/") {
			return "/" + a
		}
		return a
	}

	a = strings.TrimRight(a, "/")
	b = strings.TrimLeft(b, "/")
	return a + "/" + b
}
