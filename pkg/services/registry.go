package services

import "strings"

// Config is the integration configuration service URIs derive from. It is
// stored once by the dispatcher's Initialize and read-only afterwards.
type Config struct {
	// IntegrationPath is the base URL or root-relative path every service URI
	// derives from (e.g. "https://host/app/integration" or "/app/integration").
	IntegrationPath string
	// ServerTechnology tags the backend hosting technology. A substring match
	// ("php", "aspx") decides the URI suffix; anything else gets none.
	ServerTechnology string
	// PageOrigin is the scheme plus host of the embedding page, in the
	// "protocol//host" form (e.g. "https://example.com"). Prefixed to resolved
	// URIs when IntegrationPath is root-relative, so cross-context requests
	// target the right host.
	PageOrigin string
	// DocumentBase is the directory portion of the embedding document's URL.
	// Relative service URIs resolve against it for POST dispatch.
	DocumentBase string
}

// Registry maps service names to resolved URIs. Values are written during
// Initialize and overwritten wholesale on re-initialization; an absent key
// resolves to the empty string, which callers must handle, not an error.
type Registry struct {
	paths map[Name]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[Name]string)}
}

// SetPath stores a URI under a service name. Last write wins.
func (r *Registry) SetPath(service Name, uri string) {
	r.paths[service] = uri
}

// GetPath returns the URI registered for the service, or "" if it was never
// registered.
func (r *Registry) GetPath(service Name) string {
	return r.paths[service]
}

// Populate resolves and stores the URI of every canonical service. Existing
// entries are overwritten.
func (r *Registry) Populate(cfg Config) {
	for _, svc := range Canonical() {
		r.SetPath(svc, ResolveURI(cfg, svc))
	}
}

// TechnologySuffix returns the file extension the backend expects for its
// service endpoints, derived from the server technology tag.
func TechnologySuffix(serverTechnology string) string {
	switch {
	case strings.Contains(serverTechnology, "php"):
		return ".php"
	case strings.Contains(serverTechnology, "aspx"):
		return ".aspx"
	default:
		return ""
	}
}

// ResolveURI builds the URI for a service from the integration configuration:
// integration path joined to the service name with exactly one slash, the
// technology suffix appended, and the page origin prefixed for root-relative
// integration paths. A degenerate Config produces a degenerate URI; validation
// is the caller's responsibility.
func ResolveURI(cfg Config, service Name) string {
	uri := Join(cfg.IntegrationPath, string(service)) + TechnologySuffix(cfg.ServerTechnology)
	if strings.HasPrefix(cfg.IntegrationPath, "/") {
		uri = cfg.PageOrigin + uri
	}
	return uri
}

// Join concatenates a base path and an element with exactly one separating
// slash, regardless of trailing or leading slashes on either side.
func Join(base, elem string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(elem, "/")
}
