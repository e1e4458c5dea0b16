// Package config holds the small set of fetcher knobs: the feed mirror
// used as a download fallback, the parallel download ceiling, and the
// network-use policy.
// Grounded on the teacher's registry configuration struct, which plays
// the same "plain struct with a loader" role for the registry server.
package config

import (
	"fmt"
	"net/url"
)

// NetworkUse controls how much of the network fetch may use, matching
// spec §6's three-level policy.
type NetworkUse int

const (
	// NetworkFull allows both direct downloads and mirror fallback.
	NetworkFull NetworkUse = iota
	// NetworkMinimal sends a bare Download method only to the mirror,
	// never to the original, possibly large, upstream archive. The steps
	// of a Recipe method are opened as given.
	NetworkMinimal
	// NetworkOffline forbids any network access; fetch must fail fast
	// with OfflineError when no local method can satisfy a request.
	NetworkOffline
)

func (n NetworkUse) String() string {
	switch n {
	case NetworkFull:
		return "full"
	case NetworkMinimal:
		return "minimal"
	case NetworkOffline:
		return "off-line"
	default:
		return fmt.Sprintf("NetworkUse(%d)", int(n))
	}
}

// Config carries the fetcher's runtime policy.
type Config struct {
	// FeedMirror is the base URL archives are re-requested from when
	// the original download fails or under NetworkMinimal; nil disables
	// the mirror entirely.
	FeedMirror *url.URL
	// MaxParallelDownloads is the parallel download ceiling. The fetch
	// package does not read it: a Fetcher tries retrieval methods one
	// at a time.
	MaxParallelDownloads int
	// NetworkUse is the network access policy.
	NetworkUse NetworkUse
}

// Default returns the out-of-the-box configuration: full network use,
// two parallel downloads, no mirror configured.
func Default() Config {
	return Config{
		MaxParallelDownloads: 2,
		NetworkUse:           NetworkFull,
	}
}

// WithMirror returns a copy of c with FeedMirror parsed from raw.
func (c Config) WithMirror(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return c, fmt.Errorf("parse feed mirror url: %w", err)
	}
	c.FeedMirror = u
	return c, nil
}
