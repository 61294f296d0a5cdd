package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agentdesk/internal/app"
	"agentdesk/internal/storage"

	"github.com/spf13/cobra"
)

const version = "0.4.0"

// applyEnvOverrides lets the environment win over the config file for the
// pair of settings that scripts most need to redirect.
func applyEnvOverrides(cfg *app.Config) {
	if v := strings.TrimSpace(os.Getenv("ADESK_LOG_FILE")); v != "" {
		cfg.LogFile = v
	}
	if v := strings.TrimSpace(os.Getenv("ADESK_ORIGINS_DB")); v != "" {
		cfg.OriginsDBPath = v
	}
}

func loadApplication() (*app.Application, error) {
	cfg, err := app.LoadConfig(app.DefaultConfigPath())
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	return app.NewApplication(cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

// opContext builds the context for one storage call, bounding remote calls
// by the configured timeout.
func opContext(a *app.Application, remote *storage.SSHRemoteConfig) (context.Context, context.CancelFunc) {
	ctx, cancel := signalContext()
	if remote == nil {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, time.Duration(a.Config.RemoteTimeoutSec)*time.Second)
	return tctx, func() {
		tcancel()
		cancel()
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printSessions(sessions []storage.AgentSessionInfo) {
	for _, s := range sessions {
		display := s.Title
		if s.SessionName != nil {
			display = *s.SessionName
		}
		star := " "
		if s.Starred {
			star = "*"
		}
		fmt.Printf("%s %-40s %s %5d msgs  %s\n", star, s.SessionID, formatStamp(s.UpdatedAt), s.MessageCount, firstLine(display))
	}
}

func main() {
	root := &cobra.Command{
		Use:     "adesk",
		Short:   "Browse, search and manage coding-agent session history",
		Long:    "adesk reads the on-disk session stores of coding agents (claude-code, opencode, codex)\nbehind one command set: list and page sessions, read message windows, search transcripts,\ndelete message pairs, and keep names/stars in a shared overlay that never touches the\ntranscripts themselves.",
		Version: version,
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions [project-path]",
		Short: "List sessions for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			backend, err := application.Storage(sessionsAgent)
			if err != nil {
				return err
			}
			remote, err := application.RemoteByID(flagRemote)
			if err != nil {
				return err
			}
			ctx, cancel := opContext(application, remote)
			defer cancel()

			if sessionsPaginate {
				limit := sessionsLimit
				if limit <= 0 {
					limit = application.Config.PageSize
				}
				page, err := backend.ListSessionsPaginated(ctx, args[0], storage.PageOptions{Cursor: sessionsCursor, Limit: limit}, remote)
				if err != nil {
					return err
				}
				if flagJSON {
					return printJSON(page)
				}
				printSessions(page.Sessions)
				fmt.Printf("\n%d of %d sessions", len(page.Sessions), page.TotalCount)
				if page.HasMore {
					fmt.Printf("  (next: --cursor %s)", page.NextCursor)
				}
				fmt.Println()
				return nil
			}

			sessions, err := backend.ListSessions(ctx, args[0], remote)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(sessions)
			}
			printSessions(sessions)
			return nil
		},
	}
	sessionsCmd.Flags().StringVarP(&sessionsAgent, "agent", "a", storage.AgentClaudeCode, "agent id: claude-code|opencode|codex")
	sessionsCmd.Flags().BoolVar(&sessionsPaginate, "paginate", false, "Page results with a cursor")
	sessionsCmd.Flags().StringVar(&sessionsCursor, "cursor", "", "Cursor from a previous page")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "Page size (defaults to configured page size)")
	root.AddCommand(sessionsCmd)

	messagesCmd := &cobra.Command{
		Use:   "messages [project-path] [session-id]",
		Short: "Read a window of a session's messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			backend, err := application.Storage(messagesAgent)
			if err != nil {
				return err
			}
			remote, err := application.RemoteByID(flagRemote)
			if err != nil {
				return err
			}
			ctx, cancel := opContext(application, remote)
			defer cancel()

			result, err := backend.ReadSessionMessages(ctx, args[0], args[1], storage.WindowOptions{Offset: messagesOffset, Limit: messagesLimit}, remote)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(result)
			}
			for _, m := range result.Messages {
				fmt.Printf("[%s] %s: %s\n", formatStamp(m.Timestamp), m.Role, firstLine(m.Content))
			}
			fmt.Printf("\n%d of %d messages", len(result.Messages), result.Total)
			if result.HasMore {
				fmt.Printf("  (more: --offset %d)", messagesOffset+len(result.Messages))
			}
			fmt.Println()
			return nil
		},
	}
	messagesCmd.Flags().StringVarP(&messagesAgent, "agent", "a", storage.AgentClaudeCode, "agent id: claude-code|opencode|codex")
	messagesCmd.Flags().IntVar(&messagesOffset, "offset", 0, "Messages to skip")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 0, "Window size (0 = all remaining)")
	root.AddCommand(messagesCmd)

	searchCmd := &cobra.Command{
		Use:   "search [project-path] [query]",
		Short: "Search session transcripts",
		Long:  "Search session titles and message text, case-insensitive.\n\nWith --agent, one backend is searched; without it every registered backend is.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			mode, ok := storage.ParseSearchMode(searchMode)
			if !ok {
				return fmt.Errorf("unknown search mode %q (want title|user|assistant|all)", searchMode)
			}
			remote, err := application.RemoteByID(flagRemote)
			if err != nil {
				return err
			}
			ctx, cancel := opContext(application, remote)
			defer cancel()

			if searchAgent != "" {
				backend, err := application.Storage(searchAgent)
				if err != nil {
					return err
				}
				results, err := backend.SearchSessions(ctx, args[0], args[1], mode, remote)
				if err != nil {
					return err
				}
				if flagJSON {
					return printJSON(results)
				}
				for _, r := range results {
					fmt.Printf("%-40s %-9s %s\n", r.SessionID, r.MatchedRole, r.Snippet)
				}
				return nil
			}

			grouped, err := application.SearchAllAgents(ctx, args[0], args[1], mode, remote)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(grouped)
			}
			for _, g := range grouped {
				if len(g.Results) == 0 {
					continue
				}
				fmt.Printf("%s:\n", g.AgentID)
				for _, r := range g.Results {
					fmt.Printf("  %-40s %-9s %s\n", r.SessionID, r.MatchedRole, r.Snippet)
				}
			}
			return nil
		},
	}
	searchCmd.Flags().StringVarP(&searchAgent, "agent", "a", "", "Restrict to one agent id (default all)")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "all", "Match scope: title|user|assistant|all")
	root.AddCommand(searchCmd)

	pathCmd := &cobra.Command{
		Use:   "path [project-path] [session-id]",
		Short: "Print where a session's messages live on disk",
		Long:  "Print the session's storage path. Backends whose layout cannot be resolved\nwithout a scan print nothing and exit 0; in --json mode the path is null.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			backend, err := application.Storage(pathAgent)
			if err != nil {
				return err
			}
			remote, err := application.RemoteByID(flagRemote)
			if err != nil {
				return err
			}

			p := backend.SessionPath(args[0], args[1], remote)
			if flagJSON {
				var out *string
				if p != "" {
					out = &p
				}
				return printJSON(struct {
					Path *string `json:"path"`
				}{out})
			}
			if p != "" {
				fmt.Println(p)
			}
			return nil
		},
	}
	pathCmd.Flags().StringVarP(&pathAgent, "agent", "a", storage.AgentClaudeCode, "agent id: claude-code|opencode|codex")
	root.AddCommand(pathCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete-pair [project-path] [session-id] [user-message-uuid]",
		Short: "Delete a user message and its assistant response",
		Long:  "Remove one user message plus everything that follows it up to the next\nuser message. The rewrite is atomic: on any failure the session file is\nleft exactly as it was.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			backend, err := application.Storage(deleteAgent)
			if err != nil {
				return err
			}
			remote, err := application.RemoteByID(flagRemote)
			if err != nil {
				return err
			}
			ctx, cancel := opContext(application, remote)
			defer cancel()

			result := backend.DeleteMessagePair(ctx, args[0], args[1], args[2], deleteFallback, remote)
			if flagJSON {
				return printJSON(result)
			}
			if !result.Success {
				return fmt.Errorf("%s", result.Error)
			}
			fmt.Printf("Deleted message pair (%d records removed)\n", result.LinesRemoved)
			return nil
		},
	}
	deleteCmd.Flags().StringVarP(&deleteAgent, "agent", "a", storage.AgentClaudeCode, "agent id: claude-code|opencode|codex")
	deleteCmd.Flags().StringVar(&deleteFallback, "fallback-content", "", "Match the user message by content when the uuid is missing")
	root.AddCommand(deleteCmd)

	renameCmd := &cobra.Command{
		Use:   "rename [project-path] [session-id] [name]",
		Short: "Name a session, or clear its name with --clear",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(flagRemote) != "" {
				return fmt.Errorf("rename writes the local overlay: %w", storage.ErrRemoteUnsupported)
			}
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()

			var name *string
			switch {
			case renameClear:
				if len(args) > 2 {
					return fmt.Errorf("--clear takes no name argument")
				}
			case len(args) == 3:
				name = &args[2]
			default:
				return fmt.Errorf("provide a name or --clear")
			}
			if err := application.Origins.SetSessionName(ctx, renameAgent, args[0], args[1], name); err != nil {
				return err
			}
			if name == nil {
				fmt.Println("Cleared session name")
			} else {
				fmt.Printf("Renamed session to %q\n", *name)
			}
			return nil
		},
	}
	renameCmd.Flags().StringVarP(&renameAgent, "agent", "a", storage.AgentClaudeCode, "agent id: claude-code|opencode|codex")
	renameCmd.Flags().BoolVar(&renameClear, "clear", false, "Clear the session name")
	root.AddCommand(renameCmd)

	starCmd := &cobra.Command{
		Use:   "star [project-path] [session-id]",
		Short: "Star a session, or unstar it with --remove",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(flagRemote) != "" {
				return fmt.Errorf("star writes the local overlay: %w", storage.ErrRemoteUnsupported)
			}
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := application.Origins.SetSessionStarred(ctx, starAgent, args[0], args[1], !starRemove); err != nil {
				return err
			}
			if starRemove {
				fmt.Println("Unstarred session")
			} else {
				fmt.Println("Starred session")
			}
			return nil
		},
	}
	starCmd.Flags().StringVarP(&starAgent, "agent", "a", storage.AgentClaudeCode, "agent id: claude-code|opencode|codex")
	starCmd.Flags().BoolVar(&starRemove, "remove", false, "Remove the star")
	root.AddCommand(starCmd)

	namedCmd := &cobra.Command{
		Use:   "named",
		Short: "List every named session across agents and projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication()
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()

			named, err := application.Origins.AllNamedSessions(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(named)
			}
			for _, n := range named {
				name := ""
				if n.Record.SessionName != nil {
					name = *n.Record.SessionName
				}
				fmt.Printf("%-12s %-40s %s  %s\n", n.AgentID, n.SessionID, name, n.ProjectPath)
			}
			return nil
		},
	}
	root.AddCommand(namedCmd)

	remotesCmd := &cobra.Command{
		Use:   "remotes",
		Short: "List configured SSH remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(app.DefaultConfigPath())
			if err != nil {
				return err
			}
			applyEnvOverrides(&cfg)
			if flagJSON {
				return printJSON(cfg.Remotes)
			}
			for _, r := range cfg.Remotes {
				state := "enabled"
				if !r.Enabled {
					state = "disabled"
				}
				target := r.Host
				if r.UseSSHConfig {
					target = r.Host + " (ssh config)"
				} else {
					if r.Username != "" {
						target = r.Username + "@" + target
					}
					if r.Port != 0 {
						target = fmt.Sprintf("%s:%d", target, r.Port)
					}
				}
				fmt.Printf("%-16s %-32s %s  [%s]\n", r.ID, target, r.Name, state)
			}
			return nil
		},
	}
	root.AddCommand(remotesCmd)

	root.PersistentFlags().StringVar(&flagRemote, "remote", "", "Configured remote id to run against")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit JSON instead of text")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	flagRemote string
	flagJSON   bool

	sessionsAgent    string
	sessionsPaginate bool
	sessionsCursor   string
	sessionsLimit    int

	messagesAgent  string
	messagesOffset int
	messagesLimit  int

	searchAgent string
	searchMode  string

	pathAgent string

	deleteAgent    string
	deleteFallback string

	renameAgent string
	renameClear bool

	starAgent  string
	starRemove bool
)
