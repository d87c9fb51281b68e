package authcore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/observekit/mcp-authcore/internal/util"
)

// This file implements OAuth 2.0 Resource Indicator validation (RFC 8707).
// The resource parameter names the protected resource a token is intended
// for; the audience derived here is what the token service later enforces.

// NormalizeResourceURL returns the canonical form of a resource identifier:
// one trailing slash is stripped from the path while scheme, host, query
// and fragment are preserved. Every comparison of resource identifiers in
// this module goes through this form so formatting differences never cause
// spurious mismatches.
func NormalizeResourceURL(resource string) string {
	return util.NormalizeURL(resource)
}

// IsValidResourceURI reports whether the value parses as an absolute URI
// with a non-empty scheme and host, as RFC 8707 requires
func IsValidResourceURI(resource string) bool {
	u, err := url.Parse(resource)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Scheme != "" && u.Host != ""
}

// NormalizeResources coerces the raw resource request parameter into a
// list of resource strings. The parameter may be absent, a single string
// (possibly carrying several space-delimited values), or an array.
func NormalizeResources(param any) []string {
	switch v := param.(type) {
	case nil:
		return []string{}
	case string:
		return strings.Fields(v)
	case []string:
		resources := make([]string, 0, len(v))
		for _, r := range v {
			if r != "" {
				resources = append(resources, r)
			}
		}
		return resources
	case []any:
		resources := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				resources = append(resources, s)
			}
		}
		return resources
	default:
		return []string{}
	}
}

// ValidateResourceMatch checks the resources requested at token time
// against the set authorized earlier in the flow. Both sides are
// normalized first. An empty request is always valid: it either means no
// resource scoping is in effect, or it defaults to what was originally
// authorized.
func ValidateResourceMatch(requested, authorized []string) ResourceMatchResult {
	if len(requested) == 0 {
		return ResourceMatchResult{Valid: true}
	}
	if len(authorized) == 0 {
		return ResourceMatchResult{
			Valid: false,
			Error: "resource parameters not included in authorization request",
		}
	}

	authorizedSet := make(map[string]struct{}, len(authorized))
	for _, a := range authorized {
		authorizedSet[NormalizeResourceURL(a)] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := authorizedSet[NormalizeResourceURL(r)]; !ok {
			return ResourceMatchResult{
				Valid: false,
				Error: fmt.Sprintf("resource %q was not authorized", r),
			}
		}
	}
	return ResourceMatchResult{Valid: true}
}

// DetermineAudience computes the audience claim for a token: the requested
// resources when present, else the originally authorized ones, else the
// normalized default resource. The result marshals as a bare string when a
// single resource remains.
func DetermineAudience(requested, authorized []string, defaultResource string) Audience {
	source := requested
	if len(source) == 0 {
		source = authorized
	}
	if len(source) == 0 {
		return Audience{NormalizeResourceURL(defaultResource)}
	}

	audience := make(Audience, 0, len(source))
	for _, r := range source {
		audience = append(audience, NormalizeResourceURL(r))
	}
	return audience
}

// SupportedResources returns the resource identifiers this server will
// mint tokens for. A single-resource deployment supports exactly its own
// normalized base identity; the set form is the extension point for
// multi-resource-server deployments.
func SupportedResources(baseURL string) []string {
	return []string{NormalizeResourceURL(baseURL)}
}

// IsSupportedResource reports whether a resource identifier is one this
// server serves
func IsSupportedResource(resource, baseURL string) bool {
	normalized := NormalizeResourceURL(resource)
	for _, supported := range SupportedResources(baseURL) {
		if normalized == supported {
			return true
		}
	}
	return false
}

// ProcessResourceParameter runs the full pipeline over a raw resource
// request parameter: normalize the shape, reject non-absolute URIs, reject
// resources outside the supported set, and return the normalized list.
// Failures are *AuthError values with the RFC 8707 invalid_target code.
func ProcessResourceParameter(param any, baseURL string) ([]string, error) {
	resources := NormalizeResources(param)
	if len(resources) == 0 {
		return []string{}, nil
	}

	var malformed []string
	for _, r := range resources {
		if !IsValidResourceURI(r) {
			malformed = append(malformed, r)
		}
	}
	if len(malformed) > 0 {
		return nil, ErrInvalidTarget(fmt.Sprintf(
			"resource must be an absolute URI: %s", strings.Join(malformed, ", ")))
	}

	var unsupported []string
	normalized := make([]string, 0, len(resources))
	for _, r := range resources {
		if !IsSupportedResource(r, baseURL) {
			unsupported = append(unsupported, r)
			continue
		}
		normalized = append(normalized, NormalizeResourceURL(r))
	}
	if len(unsupported) > 0 {
		return nil, ErrInvalidTarget(fmt.Sprintf(
			"unsupported resource(s) %s; this server serves %s",
			strings.Join(unsupported, ", "),
			strings.Join(SupportedResources(baseURL), ", ")))
	}

	return normalized, nil
}
