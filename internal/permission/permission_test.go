package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchBashPermission(t *testing.T) {
	patterns := map[string]Action{
		"git *":         ActionAllow,
		"rm *":          ActionDeny,
		"npm install *": ActionAsk,
		"*":             ActionAsk,
	}

	tests := []struct {
		name     string
		cmd      BashCommand
		expected Action
	}{
		{
			name:     "git allowed",
			cmd:      BashCommand{Name: "git", Subcommand: "commit"},
			expected: ActionAllow,
		},
		{
			name:     "git push allowed",
			cmd:      BashCommand{Name: "git", Subcommand: "push", Args: []string{"push", "origin", "main"}},
			expected: ActionAllow,
		},
		{
			name:     "rm denied",
			cmd:      BashCommand{Name: "rm", Args: []string{"-rf", "dir"}},
			expected: ActionDeny,
		},
		{
			name:     "npm install ask",
			cmd:      BashCommand{Name: "npm", Subcommand: "install", Args: []string{"install", "express"}},
			expected: ActionAsk,
		},
		{
			name:     "unknown command defaults to global wildcard",
			cmd:      BashCommand{Name: "unknown"},
			expected: ActionAsk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MatchBashPermission(tt.cmd, patterns))
		})
	}
}

func TestMatchBashPermission_SpecificSubcommandWins(t *testing.T) {
	patterns := map[string]Action{
		"git commit *": ActionAllow,
		"git push *":   ActionDeny,
		"git *":        ActionAsk,
	}

	assert.Equal(t, ActionAllow, MatchBashPermission(BashCommand{Name: "git", Subcommand: "commit"}, patterns))
	assert.Equal(t, ActionDeny, MatchBashPermission(BashCommand{Name: "git", Subcommand: "push"}, patterns))
	assert.Equal(t, ActionAsk, MatchBashPermission(BashCommand{Name: "git", Subcommand: "status"}, patterns))
}

func TestMatchBashPermission_NoGlobalWildcard(t *testing.T) {
	patterns := map[string]Action{"git *": ActionAllow}
	assert.Equal(t, ActionAsk, MatchBashPermission(BashCommand{Name: "rm"}, patterns))
}

func TestBuildPattern(t *testing.T) {
	assert.Equal(t, "git commit *", BuildPattern(BashCommand{Name: "git", Subcommand: "commit"}))
	assert.Equal(t, "ls *", BuildPattern(BashCommand{Name: "ls", Args: []string{"-la"}}))
}

func TestDoomLoopDetector(t *testing.T) {
	d := NewDoomLoopDetector()
	args := map[string]any{"path": "."}

	assert.False(t, d.Check("t1", "file-list", args))
	assert.False(t, d.Check("t1", "file-list", args))
	assert.True(t, d.Check("t1", "file-list", args), "the third identical call triggers")
}

func TestDoomLoopDetector_DifferentArgsBreakRun(t *testing.T) {
	d := NewDoomLoopDetector()

	assert.False(t, d.Check("t1", "file-list", map[string]any{"path": "a"}))
	assert.False(t, d.Check("t1", "file-list", map[string]any{"path": "b"}))
	assert.False(t, d.Check("t1", "file-list", map[string]any{"path": "a"}))
}

func TestDoomLoopDetector_ScopedByKey(t *testing.T) {
	d := NewDoomLoopDetector()
	args := map[string]any{"path": "."}

	d.Check("t1", "file-list", args)
	d.Check("t1", "file-list", args)
	assert.False(t, d.Check("t2", "file-list", args), "a different thread has its own history")
}

func TestDoomLoopDetector_Clear(t *testing.T) {
	d := NewDoomLoopDetector()
	args := map[string]any{"path": "."}

	d.Check("t1", "file-list", args)
	d.Check("t1", "file-list", args)
	d.Clear("t1")
	assert.False(t, d.Check("t1", "file-list", args))
}

func TestPolicyEvaluate_ReadOnlyAlwaysAllowed(t *testing.T) {
	p := NewPolicy()
	v := p.Evaluate("s1", "t1", "file-read", true, "", nil)
	assert.Equal(t, ActionAllow, v.Action)
}

func TestPolicyEvaluate_ProfileDenyWins(t *testing.T) {
	p := NewPolicy()
	p.AllowForSession("s1", "bash")
	v := p.Evaluate("s1", "t1", "bash", false, ActionDeny, nil)
	assert.Equal(t, ActionDeny, v.Action)
}

func TestPolicyEvaluate_SessionAllow(t *testing.T) {
	p := NewPolicy()

	v := p.Evaluate("s1", "t1", "file-write", false, "", nil)
	assert.Equal(t, ActionAsk, v.Action)

	p.AllowForSession("s1", "file-write")
	v = p.Evaluate("s1", "t1", "file-write", false, "", nil)
	assert.Equal(t, ActionAllow, v.Action)

	// Other sessions are unaffected.
	v = p.Evaluate("s2", "t2", "file-write", false, "", nil)
	assert.Equal(t, ActionAsk, v.Action)
}

func TestPolicyEvaluate_DoomLoopForcesAsk(t *testing.T) {
	p := NewPolicy()
	p.AllowForSession("s1", "bash")
	args := map[string]any{"command": "ls"}

	for i := 0; i < 2; i++ {
		v := p.Evaluate("s1", "t1", "bash", false, "", args)
		assert.Equal(t, ActionAllow, v.Action)
		assert.False(t, v.DoomLoop)
	}

	v := p.Evaluate("s1", "t1", "bash", false, "", args)
	assert.Equal(t, ActionAsk, v.Action)
	assert.True(t, v.DoomLoop, "the repeated call must be flagged")
}

func TestPolicyClearSession(t *testing.T) {
	p := NewPolicy()
	p.AllowForSession("s1", "bash")
	p.ClearSession("s1")
	assert.False(t, p.IsAllowed("s1", "bash"))
}

func TestPolicyResetDoomLoopAtTurnStart(t *testing.T) {
	p := NewPolicy()
	args := map[string]any{"command": "ls"}

	p.Evaluate("s1", "t1", "bash", false, ActionAllow, args)
	p.Evaluate("s1", "t1", "bash", false, ActionAllow, args)
	p.ResetDoomLoop("t1")

	v := p.Evaluate("s1", "t1", "bash", false, ActionAllow, args)
	assert.False(t, v.DoomLoop)
}
