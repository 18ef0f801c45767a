package crawler

import "strings"

// domainPatterns stores exact hosts and suffix patterns derived from configuration.
// A bare domain matches itself and its subdomains; "*.example.com" and
// ".example.com" match subdomains only.
type domainPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainPatterns(patterns []string) *domainPatterns {
	matcher := &domainPatterns{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
			matcher.addSuffix(value)
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (p *domainPatterns) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

// Matches reports whether host falls under any pattern. A nil set matches nothing.
func (p *domainPatterns) Matches(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := p.exact[host]; exact {
		return true
	}
	for _, suffix := range p.suffixes {
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// DomainFilter admits hosts on the allow list (everything when it is empty)
// that are not on the deny list.
type DomainFilter struct {
	allow *domainPatterns
	deny  *domainPatterns
}

// NewDomainFilter builds a DomainFilter.
func NewDomainFilter(allowed, denied []string) *DomainFilter {
	return &DomainFilter{
		allow: newDomainPatterns(allowed),
		deny:  newDomainPatterns(denied),
	}
}

// Allowed reports whether host may be crawled.
func (f *DomainFilter) Allowed(host string) bool {
	if f == nil {
		return true
	}
	if f.deny.Matches(host) {
		return false
	}
	if f.allow == nil {
		return true
	}
	return f.allow.Matches(host)
}
