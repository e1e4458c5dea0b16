package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// mirrorURL rewrites original into a request against the configured
// feed mirror, per spec §6: the mirror re-hosts archives at
// <mirror>/archive/<scheme>/<host>/<path, with '/' replaced by '%23'>.
func mirrorURL(mirror *url.URL, original *url.URL) (*url.URL, error) {
	if mirror == nil {
		return nil, fmt.Errorf("no feed mirror configured")
	}
	path := strings.TrimPrefix(original.Path, "/")
	encoded := strings.ReplaceAll(path, "/", "%23")
	ref := fmt.Sprintf("archive/%s/%s/%s", original.Scheme, original.Host, encoded)
	return mirror.Parse(ref)
}
