// Package services maps logical render service names to resolved backend URIs.
package services

import "strings"

// Name identifies a backend render service. The value is the path segment the
// backend mounts the service under.
type Name string

// Canonical service names. Every one of these is registered by Initialize.
const (
	Configuration Name = "configurationjson"
	CreateImage   Name = "createimage"
	ShowImage     Name = "showimage"
	GetMathML     Name = "getmathml"
	Generic       Name = "service"
)

// Canonical returns the fixed set of service names, in registration order.
func Canonical() []Name {
	return []Name{Configuration, CreateImage, ShowImage, GetMathML, Generic}
}

// rubyEngineMarker appears in URIs mounted by the Ruby integration, which
// serves every endpoint under a single engine mount point.
const rubyEngineMarker = "pluginengine"

// InferServerLanguage reports the backend hosting technology for a service URI
// or technology tag: "php", "aspx", "ruby" or "java" (default). Reporting
// only; dispatch never branches on it.
func InferServerLanguage(s string) string {
	switch {
	case strings.Contains(s, ".php"):
		return "php"
	case strings.Contains(s, ".aspx"):
		return "aspx"
	case strings.Contains(s, rubyEngineMarker):
		return "ruby"
	default:
		return "java"
	}
}
