// Package validate screens user-supplied profile URLs before they are
// stored and served back to other clients.
//
// Hosts are validated as literal strings only; no DNS resolution is
// performed. A hostname that resolves to a private address at request
// time will pass. This is a known limitation of the allow-list design,
// not a DNS-rebinding guarantee.
package validate

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidURL     = errors.New("invalid URL")
	ErrTooManyLinks   = errors.New("too many links")
	ErrInvalidLinkKey = errors.New("invalid link key")
	ErrInvalidLink    = errors.New("invalid link URL")
	ErrBioTooLong     = errors.New("bio too long")
)

const (
	maxAvatarURLLen = 300
	maxLinkURLLen   = 200
	maxLinks        = 5
	maxLinkKeyLen   = 30
	maxBioLen       = 120
)

// Policy selects the allow-list and fallback behaviour for one class
// of profile URL.
type Policy struct {
	maxLen     int
	allowHosts map[string]struct{}
	// allowCustomHTTPS permits any host, but only over https.
	allowCustomHTTPS bool
}

// Avatar accepts known media hosts only.
var Avatar = Policy{
	maxLen: maxAvatarURLLen,
	allowHosts: hostSet(
		"github.com",
		"raw.githubusercontent.com",
		"avatars.githubusercontent.com",
		"x.com",
		"twitter.com",
		"pbs.twimg.com",
		"linkedin.com",
		"media.licdn.com",
		"gravatar.com",
		"i.imgur.com",
		"imgur.com",
	),
}

// Link accepts known profile hosts, plus arbitrary hosts over https.
var Link = Policy{
	maxLen: maxLinkURLLen,
	allowHosts: hostSet(
		"github.com",
		"gitlab.com",
		"x.com",
		"twitter.com",
		"linkedin.com",
		"medium.com",
		"substack.com",
	),
	allowCustomHTTPS: true,
}

var linkKeyRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

// URL validates raw against the policy and returns the canonical
// serialization with any fragment stripped.
func URL(raw string, p Policy) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > p.maxLen {
		return "", ErrInvalidURL
	}

	u, err := url.Parse(trimmed)
	if err != nil || !u.IsAbs() {
		return "", ErrInvalidURL
	}
	if u.User != nil {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrInvalidURL
	}
	if ip, numeric, valid := parseIPv4Host(host); numeric {
		if !valid || isBlockedIP(ip) {
			return "", ErrInvalidURL
		}
	} else if isBlockedHost(host) {
		return "", ErrInvalidURL
	}

	if !hostAllowed(host, p.allowHosts) {
		if !p.allowCustomHTTPS || u.Scheme != "https" {
			return "", ErrInvalidURL
		}
	}

	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// AvatarURL validates a URL under the avatar policy.
func AvatarURL(raw string) (string, error) {
	return URL(raw, Avatar)
}

// LinkURL validates a URL under the link policy.
func LinkURL(raw string) (string, error) {
	return URL(raw, Link)
}

// Links validates a profile link map: at most 5 entries, lower-cased
// keys of 1-30 chars matching [a-z0-9_]+, values under the link
// policy. Returns the normalized map.
func Links(in map[string]string) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}
	if len(in) > maxLinks {
		return nil, ErrTooManyLinks
	}

	out := make(map[string]string, len(in))
	for key, val := range in {
		lower := strings.ToLower(key)
		if len(lower) < 1 || len(lower) > maxLinkKeyLen || !linkKeyRegex.MatchString(lower) {
			return nil, ErrInvalidLinkKey
		}
		if val == "" || len(val) > maxLinkURLLen {
			return nil, ErrInvalidLink
		}
		normalized, err := LinkURL(val)
		if err != nil {
			return nil, ErrInvalidLink
		}
		out[lower] = normalized
	}
	return out, nil
}

// Bio enforces the 120-character cap on the trimmed text and returns
// the trimmed form.
func Bio(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len([]rune(trimmed)) > maxBioLen {
		return "", ErrBioTooLong
	}
	return trimmed, nil
}

// isBlockedHost rejects loopback names and private or link-local
// address literals. Numeric IPv4 hosts are handled by parseIPv4Host
// before this check; what reaches net.ParseIP here is IPv6 literals.
func isBlockedHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return isBlockedIP(ip)
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// parseIPv4Host interprets host as a numeric IPv4 address the way URL
// parsers canonicalize one: decimal, octal (leading 0) or hex (0x)
// labels, where the last label spans all remaining bytes, so 127.1,
// 0x7f000001, 0177.0.0.1 and 2130706433 all denote 127.0.0.1. A host
// whose last label is numeric must canonicalize this way or the URL is
// rejected; names never reach the IPv4 path.
func parseIPv4Host(host string) (ip net.IP, numeric, valid bool) {
	host = strings.TrimSuffix(host, ".")
	parts := strings.Split(host, ".")
	if _, ok := parseIPv4Label(parts[len(parts)-1]); !ok {
		return nil, false, false
	}
	if len(parts) > 4 {
		return nil, true, false
	}

	nums := make([]uint64, len(parts))
	for i, part := range parts {
		n, ok := parseIPv4Label(part)
		if !ok {
			return nil, true, false
		}
		nums[i] = n
	}

	// The last label covers the remaining bytes; earlier labels must
	// each fit in one.
	last := nums[len(nums)-1]
	if last >= 1<<(8*uint(4-(len(nums)-1))) {
		return nil, true, false
	}
	v := uint32(last)
	for i := 0; i < len(nums)-1; i++ {
		if nums[i] > 255 {
			return nil, true, false
		}
		v |= uint32(nums[i]) << (8 * uint(3-i))
	}
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), true, true
}

func parseIPv4Label(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"):
		s, base = s[2:], 16
		if s == "" {
			return 0, true
		}
	case len(s) > 1 && s[0] == '0':
		s, base = s[1:], 8
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// hostAllowed reports whether host equals or is a subdomain of an
// allow-listed root.
func hostAllowed(host string, allowed map[string]struct{}) bool {
	if _, ok := allowed[host]; ok {
		return true
	}
	for root := range allowed {
		if strings.HasSuffix(host, "."+root) {
			return true
		}
	}
	return false
}

func hostSet(hosts ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[h] = struct{}{}
	}
	return set
}
