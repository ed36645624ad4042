package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/yerniteja1/deploykit/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// session bundles the client and token a command runs with.
type session struct {
	client *apiclient.Client
	token  string
}

func newRootCommand(out io.Writer) *cobra.Command {
	var apiBase string
	var timeout time.Duration

	open := func() (session, error) {
		cfg, err := loadConfig()
		if err != nil {
			return session{}, err
		}
		if strings.TrimSpace(apiBase) != "" {
			cfg.APIBaseURL = apiBase
		}
		token := strings.TrimSpace(os.Getenv("DEPLOYKIT_TOKEN"))
		if token == "" {
			token = strings.TrimSpace(cfg.AccessToken)
		}
		if token == "" {
			return session{}, errors.New("please login first using 'deployctl login'")
		}
		client, err := apiclient.New(cfg.APIBaseURL)
		if err != nil {
			return session{}, err
		}
		return session{client: client, token: token}, nil
	}
	// withSession runs fn under the request timeout.
	withSession := func(fn func(context.Context, session, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return fn(ctx, s, args)
		}
	}
	// streaming commands run until the deployment ends or the user interrupts.
	withStream := func(fn func(context.Context, session, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			return fn(cmd.Context(), s, args)
		}
	}

	root := &cobra.Command{
		Use:           "deployctl",
		Short:         "Drive deploykit projects and deployments from the terminal",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", "", "API base URL (default from config, then http://localhost:4000)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout for non-streaming commands")

	login := &cobra.Command{
		Use:   "login <token>",
		Short: "Store a session token after verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig()
			if strings.TrimSpace(apiBase) != "" {
				cfg.APIBaseURL = apiBase
			}
			client, err := apiclient.New(cfg.APIBaseURL)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			user, err := client.Me(ctx, args[0])
			if err != nil {
				return err
			}
			cfg.AccessToken = strings.TrimSpace(args[0])
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(out, "logged in as %s\n", displayName(user))
			return nil
		},
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session user",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s session, _ []string) error {
			user, err := s.client.Me(ctx, s.token)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s (%s)\n", displayName(user), user.ID)
			return nil
		}),
	}

	root.AddCommand(login, whoami, projectCommand(out, withSession), envCommand(out, withSession), deployCommand(out, withSession, withStream))
	return root
}

type runner func(fn func(context.Context, session, []string) error) func(*cobra.Command, []string) error

func projectCommand(out io.Writer, withSession runner) *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your projects",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s session, _ []string) error {
			projects, err := s.client.ListProjects(ctx, s.token)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tREPO\tBRANCH\tSTATUS")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.RepoFullName, p.Branch, p.Status)
			}
			return tw.Flush()
		}),
	}

	var input apiclient.CreateProjectInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a repository as a project",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s session, _ []string) error {
			project, err := s.client.CreateProject(ctx, s.token, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "project created: %s (%s)\n", project.ID, project.Name)
			return nil
		}),
	}
	create.Flags().StringVar(&input.Name, "name", "", "project name")
	create.Flags().StringVar(&input.RepoFullName, "repo", "", "repository full name, owner/name")
	create.Flags().StringVar(&input.RepoURL, "url", "", "clone URL")
	create.Flags().StringVar(&input.Branch, "branch", "", "branch to deploy (default main)")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("repo")

	remove := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project with its deployments and variables",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s session, args []string) error {
			if err := s.client.DeleteProject(ctx, s.token, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(out, "project deleted")
			return nil
		}),
	}

	cmd.AddCommand(list, create, remove)
	return cmd
}

func envCommand(out io.Writer, withSession runner) *cobra.Command {
	cmd := &cobra.Command{Use: "env", Short: "Manage project environment variables"}

	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "Print the project's variables",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s session, args []string) error {
			vars, err := s.client.ListVariables(ctx, s.token, args[0])
			if err != nil {
				return err
			}
			for _, v := range vars {
				fmt.Fprintf(out, "%s=%s\n", v.Key, v.Value)
			}
			return nil
		}),
	}

	set := &cobra.Command{
		Use:   "set <project-id> KEY=VALUE",
		Short: "Create or replace a variable",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, s session, args []string) error {
			key, value, ok := strings.Cut(args[1], "=")
			if !ok {
				return fmt.Errorf("expected KEY=VALUE, got %q", args[1])
			}
			if _, err := s.client.SetVariable(ctx, s.token, args[0], key, value); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s set\n", key)
			return nil
		}),
	}

	unset := &cobra.Command{
		Use:   "unset <project-id> KEY",
		Short: "Remove a variable",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, s session, args []string) error {
			if err := s.client.DeleteVariable(ctx, s.token, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s removed\n", args[1])
			return nil
		}),
	}

	cmd.AddCommand(list, set, unset)
	return cmd
}

func deployCommand(out io.Writer, withSession, withStream runner) *cobra.Command {
	printer := func(ev apiclient.Event) error {
		if ev.Log != "" {
			fmt.Fprintln(out, ev.Log)
		}
		return nil
	}
	finish := func(status string, err error) error {
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "status: %s\n", status)
		if status != "deployed" {
			return fmt.Errorf("deployment %s", status)
		}
		return nil
	}

	cmd := &cobra.Command{
		Use:   "deploy <project-id>",
		Short: "Start a deployment and stream its logs",
		Args:  cobra.ExactArgs(1),
		RunE: withStream(func(ctx context.Context, s session, args []string) error {
			id, status, err := s.client.StartDeployment(ctx, s.token, args[0], printer)
			if id != "" {
				fmt.Fprintf(out, "deployment: %s\n", id)
			}
			return finish(status, err)
		}),
	}

	var useWebsocket bool
	logs := &cobra.Command{
		Use:   "logs <project-id> <deployment-id>",
		Short: "Follow a running deployment or replay a finished one",
		Args:  cobra.ExactArgs(2),
		RunE: withStream(func(ctx context.Context, s session, args []string) error {
			if useWebsocket {
				return finish(s.client.WatchDeployment(ctx, s.token, args[1], printer))
			}
			return finish(s.client.FollowDeployment(ctx, s.token, args[0], args[1], printer))
		}),
	}
	logs.Flags().BoolVar(&useWebsocket, "ws", false, "use the websocket transport")

	history := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List finished deployments, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s session, args []string) error {
			deployments, err := s.client.ListDeployments(ctx, s.token, args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tLINES\tCREATED")
			for _, d := range deployments {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.ID, d.Status, len(d.LogLines), d.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(logs, history)
	return cmd
}

func displayName(u apiclient.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4000"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("DEPLOYKIT_CONFIG_DIR")); dir != "" {
		return filepath.Join(dir, "config.json"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "deploykit", "config.json"), nil
}
