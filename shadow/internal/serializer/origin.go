package serializer

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Origin is the scheme/host/port triple relative resource locators are
// resolved against.
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

// OriginFromURL extracts the origin of an absolute URL.
func OriginFromURL(raw string) (Origin, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, fmt.Errorf("serializer: parse origin: %w", err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Origin{}, fmt.Errorf("serializer: origin %q is not absolute", raw)
	}
	o := Origin{Scheme: strings.ToLower(u.Scheme), Host: u.Hostname()}
	if p := u.Port(); p != "" {
		o.Port, err = strconv.Atoi(p)
		if err != nil {
			return Origin{}, fmt.Errorf("serializer: origin port: %w", err)
		}
	}
	return o, nil
}

// IsZero reports whether no origin is set. A zero origin leaves locators
// untouched.
func (o Origin) IsZero() bool { return o.Host == "" }

// String renders the origin, omitting the scheme's default port.
func (o Origin) String() string {
	if o.IsZero() {
		return ""
	}
	scheme := o.Scheme
	if scheme == "" {
		scheme = "https"
	}
	host := o.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if o.Port == 0 || o.Port == defaultPort(scheme) {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + strconv.Itoa(o.Port)
}

func defaultPort(scheme string) int {
	switch scheme {
	case "http", "ws":
		return 80
	case "https", "wss":
		return 443
	}
	return 0
}

// Resolve makes ref absolute. References that already carry a scheme are
// returned unchanged; everything else is resolved from the origin's root.
func (o Origin) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if o.IsZero() || ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "" {
		return ref
	}
	if !strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "#") && !strings.HasPrefix(ref, "?") {
		u.Path = "/" + u.Path
	}
	base, err := url.Parse(o.String() + "/")
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// resolveSrcset resolves the URL of each candidate of a srcset value.
func (o Origin) resolveSrcset(v string) string {
	parts := strings.Split(v, ",")
	for i, p := range parts {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			continue
		}
		fields[0] = o.Resolve(fields[0])
		parts[i] = strings.Join(fields, " ")
	}
	return strings.Join(parts, ", ")
}
