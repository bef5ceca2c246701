package execution

// Launcher builds the argv of the agent program.
type Launcher struct {
	Program       string
	Args          []string
	PromptFlag    string
	ResumeFlag    string
	SessionIDFlag string
}

// DefaultLauncher runs the claude CLI.
func DefaultLauncher() Launcher {
	return Launcher{
		Program:       "claude",
		PromptFlag:    "-p",
		ResumeFlag:    "--resume",
		SessionIDFlag: "--session-id",
	}
}

// Argv returns program [args] [promptFlag command] (resumeFlag|sessionIDFlag) sessionID.
// An empty command starts an interactive session.
func (l Launcher) Argv(command, sessionID string, resume bool) []string {
	argv := make([]string, 0, len(l.Args)+5)
	argv = append(argv, l.Program)
	argv = append(argv, l.Args...)
	if command != "" {
		argv = append(argv, l.PromptFlag, command)
	}
	if sessionID == "" {
		return argv
	}
	if resume {
		if l.ResumeFlag != "" {
			argv = append(argv, l.ResumeFlag, sessionID)
		}
	} else if l.SessionIDFlag != "" {
		argv = append(argv, l.SessionIDFlag, sessionID)
	}
	return argv
}
