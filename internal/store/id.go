// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// trackingParams are query parameters that never change the article a URL
// points to.
var trackingParams = []string{"utm_", "fbclid", "gclid", "mc_cid", "mc_eid", "ocid"}

// NormalizeURL canonicalizes an article link so that trivially different
// spellings of the same URL map to the same article: scheme and host are
// lowercased, default ports, fragments, tracking parameters and a trailing
// slash are dropped, and the remaining query is sorted. Unparseable input is
// returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	for _, p := range trackingParams {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// ArticleID derives the article id from a source URL: a name-based (v5)
// UUID over the normalized URL. Equal URLs always yield equal ids, so the
// id doubles as the dedup key.
func ArticleID(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(NormalizeURL(sourceURL))).String()
}
