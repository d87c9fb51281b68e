package authcore

import "strings"

// ScopeBaseline is the minimal scope every token carries; it grants access
// to the MCP surface itself but to no monitored-platform data.
const ScopeBaseline = "monitor:access"

// ScopeCategory classifies a scope by the breadth of access it grants
type ScopeCategory string

const (
	ScopeCategoryCore  ScopeCategory = "core"
	ScopeCategoryRead  ScopeCategory = "read"
	ScopeCategoryWrite ScopeCategory = "write"
	ScopeCategoryAdmin ScopeCategory = "admin"
)

// ScopeDefinition describes a scope in the catalog
type ScopeDefinition struct {
	Description string
	Category    ScopeCategory
}

// ScopeCatalog is the static catalog of scopes this deployment understands
var ScopeCatalog = map[string]ScopeDefinition{
	ScopeBaseline:      {Description: "Connect to the MCP server", Category: ScopeCategoryCore},
	"monitor:read":     {Description: "Read monitoring data of all kinds", Category: ScopeCategoryRead},
	"monitor:write":    {Description: "Modify monitoring configuration", Category: ScopeCategoryWrite},
	"monitor:admin":    {Description: "Administer the monitoring platform", Category: ScopeCategoryAdmin},
	"devices:read":     {Description: "Read monitored resources and their properties", Category: ScopeCategoryRead},
	"devices:write":    {Description: "Modify monitored resources and their properties", Category: ScopeCategoryWrite},
	"alerts:read":      {Description: "Read alerts and alert history", Category: ScopeCategoryRead},
	"alerts:write":     {Description: "Acknowledge alerts and add alert notes", Category: ScopeCategoryWrite},
	"websites:read":    {Description: "Read synthetic website checks", Category: ScopeCategoryRead},
	"websites:write":   {Description: "Modify synthetic website checks", Category: ScopeCategoryWrite},
	"dashboards:read":  {Description: "Read dashboards and widgets", Category: ScopeCategoryRead},
	"reports:read":     {Description: "Run and read reports", Category: ScopeCategoryRead},
	"sdt:write":        {Description: "Create and delete scheduled downtime", Category: ScopeCategoryWrite},
	"collectors:read":  {Description: "Read collector status", Category: ScopeCategoryRead},
	"collectors:admin": {Description: "Manage and restart collectors", Category: ScopeCategoryAdmin},
}

// scopeHierarchy maps each scope to the scopes it directly implies.
// Expansion is deliberately single-hop: broad scopes list every implied
// scope explicitly (admin lists both write and read) rather than relying
// on transitive closure.
var scopeHierarchy = map[string][]string{
	"monitor:admin":    {"monitor:write", "monitor:read"},
	"monitor:write":    {"monitor:read"},
	"devices:write":    {"devices:read"},
	"alerts:write":     {"alerts:read"},
	"websites:write":   {"websites:read"},
	"collectors:admin": {"collectors:read"},
}

// toolScopes maps each MCP tool to its required scopes, baseline first.
// Tools not listed here fall back to the baseline requirement.
var toolScopes = map[string][]string{
	"list_resources":            {ScopeBaseline, "devices:read"},
	"get_resource":              {ScopeBaseline, "devices:read"},
	"list_resource_datasources": {ScopeBaseline, "devices:read"},
	"list_resource_properties":  {ScopeBaseline, "devices:read"},
	"update_resource_property":  {ScopeBaseline, "devices:write"},
	"list_alerts":               {ScopeBaseline, "alerts:read"},
	"get_alert":                 {ScopeBaseline, "alerts:read"},
	"ack_alert":                 {ScopeBaseline, "alerts:write"},
	"add_alert_note":            {ScopeBaseline, "alerts:write"},
	"create_resource_sdt":       {ScopeBaseline, "sdt:write"},
	"list_sdts":                 {ScopeBaseline, "monitor:read"},
	"delete_sdt":                {ScopeBaseline, "sdt:write"},
	"list_dashboards":           {ScopeBaseline, "dashboards:read"},
	"get_dashboard_widgets":     {ScopeBaseline, "dashboards:read"},
	"list_websites":             {ScopeBaseline, "websites:read"},
	"update_website":            {ScopeBaseline, "websites:write"},
	"run_report":                {ScopeBaseline, "reports:read"},
	"list_collectors":           {ScopeBaseline, "collectors:read"},
	"restart_collector":         {ScopeBaseline, "collectors:admin"},
	"get_audit_logs":            {ScopeBaseline, "monitor:admin"},
}

// ParseScopes splits a space-delimited scope string into a slice,
// collapsing duplicates and preserving first-seen order
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	seen := make(map[string]struct{}, len(fields))
	scopes := make([]string, 0, len(fields))
	for _, s := range fields {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		scopes = append(scopes, s)
	}
	return scopes
}

// JoinScopes renders a scope slice back to the space-delimited wire form
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ExpandScopes returns the union of the input scopes with each input
// scope's directly implied scopes. Single hop only: implications of newly
// added scopes are not expanded further.
func ExpandScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	expanded := make([]string, 0, len(scopes))

	add := func(s string) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			expanded = append(expanded, s)
		}
	}

	for _, s := range scopes {
		add(s)
	}
	for _, s := range scopes {
		for _, implied := range scopeHierarchy[s] {
			add(implied)
		}
	}
	return expanded
}

// HasRequiredScopes reports whether every required scope appears in the
// expansion of the user's scopes
func HasRequiredScopes(userScopes, required []string) bool {
	expanded := ExpandScopes(userScopes)
	set := make(map[string]struct{}, len(expanded))
	for _, s := range expanded {
		set[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// ToolScopes returns the scopes required by the named tool; unknown tools
// default to the baseline requirement
func ToolScopes(tool string) []string {
	if scopes, ok := toolScopes[tool]; ok {
		return scopes
	}
	return []string{ScopeBaseline}
}

// ValidateToolScopes checks a caller's scope string against the named
// tool's requirements
func ValidateToolScopes(tool, userScope string) ScopeValidationResult {
	return CheckRequiredScopes(userScope, ToolScopes(tool))
}

// CheckRequiredScopes evaluates a space-delimited scope string against an
// explicit requirement list
func CheckRequiredScopes(userScope string, required []string) ScopeValidationResult {
	expanded := ExpandScopes(ParseScopes(userScope))
	set := make(map[string]struct{}, len(expanded))
	for _, s := range expanded {
		set[s] = struct{}{}
	}

	var missing []string
	for _, r := range required {
		if _, ok := set[r]; !ok {
			missing = append(missing, r)
		}
	}

	return ScopeValidationResult{
		Valid:          len(missing) == 0,
		RequiredScopes: required,
		MissingScopes:  missing,
	}
}

// RecommendedScopes returns the union of the caller's current scopes and
// the missing ones, for constructing a step-up authorization request
func RecommendedScopes(currentScope string, missing []string) []string {
	current := ParseScopes(currentScope)
	seen := make(map[string]struct{}, len(current)+len(missing))
	recommended := make([]string, 0, len(current)+len(missing))
	for _, s := range append(current, missing...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		recommended = append(recommended, s)
	}
	return recommended
}

// IsWriteScope reports whether a scope grants write-level access,
// classified by name pattern for presentation and audit layers
func IsWriteScope(scope string) bool {
	return strings.HasSuffix(scope, ":write") || IsAdminScope(scope)
}

// IsAdminScope reports whether a scope grants admin-level access
func IsAdminScope(scope string) bool {
	return strings.HasSuffix(scope, ":admin")
}
