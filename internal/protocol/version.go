package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// clientVersionRe matches the software identifier clients declare at
// connection establishment, e.g. "peerlink/1.4.2 (linux)".
var clientVersionRe = regexp.MustCompile(`^([^/\s]+)/(\d+\.\d+\.\d+) \(([^)]*)\)$`)

// ClientVersion is the parsed form of a client's software identifier.
type ClientVersion struct {
	Product  string
	Version  string
	Platform string
}

// ParseClientVersion parses a "<product>/<major>.<minor>.<patch> (<platform>)"
// identifier string.
func ParseClientVersion(s string) (ClientVersion, error) {
	m := clientVersionRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ClientVersion{}, fmt.Errorf("malformed client version string %q", s)
	}
	return ClientVersion{Product: m[1], Version: m[2], Platform: m[3]}, nil
}

// HandshakeError is the structured rejection payload returned to clients whose
// declared version is missing, malformed, or unsupported. It is written as the
// HTTP response body before the WebSocket upgrade is attempted, so rejected
// clients never reach the session layer.
type HandshakeError struct {
	Message           string   `json:"message"`
	SupportedVersions []string `json:"supportedVersions"`
}

func (e *HandshakeError) Error() string { return e.Message }

// VersionGate validates client-declared versions at connection establishment.
// The check runs exactly once per connection, before any session state exists.
type VersionGate struct {
	versions  []string
	supported map[string]struct{}
}

func NewVersionGate(versions []string) *VersionGate {
	g := &VersionGate{
		versions:  append([]string(nil), versions...),
		supported: make(map[string]struct{}, len(versions)),
	}
	for _, v := range versions {
		g.supported[v] = struct{}{}
	}
	return g
}

// Supported returns the accepted version list, in configuration order.
func (g *VersionGate) Supported() []string {
	return append([]string(nil), g.versions...)
}

// Check validates the raw identifier string. A nil result means the
// connection may proceed.
func (g *VersionGate) Check(raw string) *HandshakeError {
	v, err := ParseClientVersion(raw)
	if err != nil {
		return &HandshakeError{
			Message:           "unrecognized client version string",
			SupportedVersions: g.Supported(),
		}
	}
	if _, ok := g.supported[v.Version]; !ok {
		return &HandshakeError{
			Message:           fmt.Sprintf("unsupported client version %s", v.Version),
			SupportedVersions: g.Supported(),
		}
	}
	return nil
}
