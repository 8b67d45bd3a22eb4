package source

import (
	"net/url"
	"strings"
)

const (
	DefaultHost       = "twitter.com"
	DefaultMobileHost = "mobile.twitter.com"
)

// LinkKind classifies an outbound link found in a post.
type LinkKind int

const (
	LinkExternal LinkKind = iota // anything not pointing back at the source site
	LinkMedia                    // post permalink ending in a photo or video segment
	LinkPost                     // permalink of another full post
)

func (k LinkKind) String() string {
	switch k {
	case LinkMedia:
		return "media"
	case LinkPost:
		return "post"
	default:
		return "external"
	}
}

// Site describes the source's host names.
type Site struct {
	Host       string // canonical host used in permalinks
	MobileHost string // host variant serving the simpler markup
}

// NewSite returns a Site, falling back to the defaults for empty hosts.
func NewSite(host, mobileHost string) Site {
	if host == "" {
		host = DefaultHost
	}
	if mobileHost == "" {
		mobileHost = DefaultMobileHost
	}
	return Site{Host: host, MobileHost: mobileHost}
}

// Classify decides whether raw is a media permalink, a post permalink, or
// some other link.
func (s Site) Classify(raw string) LinkKind {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !s.owns(u.Host) {
		return LinkExternal
	}

	// <user>/status/<id>[/photo|video/<n>]
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 3 || segments[0] == "" || segments[1] != "status" || segments[2] == "" {
		return LinkExternal
	}
	if len(segments) >= 4 && (segments[3] == "photo" || segments[3] == "video") {
		return LinkMedia
	}
	return LinkPost
}

// Mobile rewrites a URL on the canonical host to the mobile host. Other URLs
// are returned unchanged.
func (s Site) Mobile(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || !s.owns(u.Host) {
		return raw
	}
	u.Host = s.MobileHost
	return u.String()
}

func (s Site) owns(host string) bool {
	host = strings.ToLower(host)
	return host == s.Host || host == "www."+s.Host || host == s.MobileHost
}
