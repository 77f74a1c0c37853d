// Package agent drives conversations: each Agent is a per-thread state
// machine running the turn loop against a provider adapter, and each
// carries a Profile describing which tools it may use and how their
// permission checks resolve.
package agent

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/obra/lace-sub014/internal/permission"
)

// Profile is an agent configuration: tool access, permission actions,
// sampling parameters, and an optional model pin.
type Profile struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Mode        Mode              `json:"mode"`
	BuiltIn     bool              `json:"builtIn"`
	Permission  ProfilePermission `json:"permission"`
	Tools       map[string]bool   `json:"tools"`
	Temperature float64           `json:"temperature,omitempty"`
	Model       *ModelRef         `json:"model,omitempty"`
	Prompt      string            `json:"prompt,omitempty"`
}

// Mode restricts where a profile may act.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
	ModeAll      Mode = "all"
)

// ModelRef pins a profile to a specific provider and model.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ProfilePermission configures the per-tool permission actions.
type ProfilePermission struct {
	Edit     permission.Action            `json:"edit,omitempty"`
	WebFetch permission.Action            `json:"webfetch,omitempty"`
	Delegate permission.Action            `json:"delegate,omitempty"`
	Bash     map[string]permission.Action `json:"bash,omitempty"` // pattern -> action
}

// ToolEnabled checks if a tool is enabled for this profile. Patterns in
// the Tools map support wildcards; absent any match the tool is
// enabled.
func (p *Profile) ToolEnabled(toolName string) bool {
	if enabled, ok := p.Tools[toolName]; ok {
		return enabled
	}

	for pattern, enabled := range p.Tools {
		if matchWildcard(pattern, toolName) {
			return enabled
		}
	}

	return true
}

// ActionFor resolves the profile's configured action for one tool
// call. An empty action means the profile has no opinion and the
// executor's default (ask) applies.
func (p *Profile) ActionFor(toolName string, args map[string]any) permission.Action {
	switch toolName {
	case "bash":
		command, _ := args["command"].(string)
		return p.bashAction(command)
	case "file-write", "file-edit":
		return p.Permission.Edit
	case "webfetch":
		return p.Permission.WebFetch
	case "delegate":
		return p.Permission.Delegate
	default:
		return ""
	}
}

// bashAction evaluates every command in a shell string against the
// profile's bash patterns. Deny anywhere denies the whole string; any
// unmatched or ask-matched command asks.
func (p *Profile) bashAction(command string) permission.Action {
	if command == "" || len(p.Permission.Bash) == 0 {
		return ""
	}

	commands, err := permission.ParseBashCommand(command)
	if err != nil {
		// Unparseable commands never auto-allow.
		return permission.ActionAsk
	}

	result := permission.ActionAllow
	for _, cmd := range commands {
		if cmd.Name == "cd" {
			continue
		}
		switch permission.MatchBashPermission(cmd, p.Permission.Bash) {
		case permission.ActionDeny:
			return permission.ActionDeny
		case permission.ActionAsk:
			result = permission.ActionAsk
		}
	}
	return result
}

// IsPrimary returns true if the profile can drive a session's main thread.
func (p *Profile) IsPrimary() bool {
	return p.Mode == ModePrimary || p.Mode == ModeAll
}

// IsSubagent returns true if the profile can drive a delegate thread.
func (p *Profile) IsSubagent() bool {
	return p.Mode == ModeSubagent || p.Mode == ModeAll
}

// Clone creates a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		Name:        p.Name,
		Description: p.Description,
		Mode:        p.Mode,
		BuiltIn:     p.BuiltIn,
		Temperature: p.Temperature,
		Prompt:      p.Prompt,
	}

	clone.Permission = ProfilePermission{
		Edit:     p.Permission.Edit,
		WebFetch: p.Permission.WebFetch,
		Delegate: p.Permission.Delegate,
	}
	if p.Permission.Bash != nil {
		clone.Permission.Bash = make(map[string]permission.Action, len(p.Permission.Bash))
		for k, v := range p.Permission.Bash {
			clone.Permission.Bash[k] = v
		}
	}

	if p.Tools != nil {
		clone.Tools = make(map[string]bool, len(p.Tools))
		for k, v := range p.Tools {
			clone.Tools[k] = v
		}
	}

	if p.Model != nil {
		clone.Model = &ModelRef{Provider: p.Model.Provider, Model: p.Model.Model}
	}

	return clone
}

// matchWildcard checks if a string matches a wildcard pattern. Simple
// prefix/suffix wildcards short-circuit; anything more complex goes
// through doublestar.
func matchWildcard(pattern, s string) bool {
	if pattern == "*" {
		return true
	}

	if strings.Contains(pattern, "**") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}

	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}

	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(s, strings.TrimPrefix(pattern, "*"))
	}

	if strings.Contains(pattern, "*") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}

	return pattern == s
}

// BuiltInProfiles returns the default profile set.
func BuiltInProfiles() map[string]*Profile {
	return map[string]*Profile{
		"build": {
			Name:        "build",
			Description: "Primary agent for executing tasks, writing code, and making changes",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Permission: ProfilePermission{
				Edit:     permission.ActionAllow,
				WebFetch: permission.ActionAllow,
				Delegate: permission.ActionAllow,
				Bash:     map[string]permission.Action{"*": permission.ActionAsk},
			},
			Tools: map[string]bool{"*": true},
		},
		"plan": {
			Name:        "plan",
			Description: "Planning agent for analysis and exploration without making changes",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Permission: ProfilePermission{
				Edit:     permission.ActionDeny,
				WebFetch: permission.ActionAllow,
				Delegate: permission.ActionAllow,
				Bash: map[string]permission.Action{
					"grep *":     permission.ActionAllow,
					"find *":     permission.ActionAllow,
					"ls *":       permission.ActionAllow,
					"cat *":      permission.ActionAllow,
					"git diff *": permission.ActionAllow,
					"git log *":  permission.ActionAllow,
					"*":          permission.ActionDeny,
				},
			},
			Tools: map[string]bool{
				"file-read":  true,
				"file-list":  true,
				"glob":       true,
				"grep":       true,
				"bash":       true,
				"file-edit":  false,
				"file-write": false,
			},
		},
		"general": {
			Name:        "general",
			Description: "General-purpose subagent for searches and exploration",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			Permission: ProfilePermission{
				Edit:     permission.ActionDeny,
				WebFetch: permission.ActionAllow,
				Delegate: permission.ActionDeny,
				Bash:     map[string]permission.Action{"*": permission.ActionDeny},
			},
			Tools: map[string]bool{
				"file-read":  true,
				"file-list":  true,
				"glob":       true,
				"grep":       true,
				"webfetch":   true,
				"bash":       false,
				"file-edit":  false,
				"file-write": false,
			},
		},
	}
}
