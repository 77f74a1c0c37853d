package permission

// MatchBashPermission finds the configured action for a parsed command,
// trying the most specific pattern first: "git commit *", then
// "git *", then "git", then "*". Absent any match the answer is ask.
func MatchBashPermission(cmd BashCommand, patterns map[string]Action) Action {
	if cmd.Subcommand != "" {
		if action, ok := patterns[cmd.Name+" "+cmd.Subcommand+" *"]; ok {
			return action
		}
	}

	if action, ok := patterns[cmd.Name+" *"]; ok {
		return action
	}

	if action, ok := patterns[cmd.Name]; ok {
		return action
	}

	if action, ok := patterns["*"]; ok {
		return action
	}

	return ActionAsk
}

// BuildPattern creates the permission pattern a command would be
// remembered under. For "git commit -m msg" that is "git commit *";
// for "ls -la" it is "ls *".
func BuildPattern(cmd BashCommand) string {
	if cmd.Subcommand != "" {
		return cmd.Name + " " + cmd.Subcommand + " *"
	}
	return cmd.Name + " *"
}
