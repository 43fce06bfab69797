package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clawlegion/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "clawctl",
	Short: "ClawLegion dashboard client",
	Long: `clawctl talks to a ClawLegion backend where a council of coordinator agents and an
army of worker agents pick up tasks and chat with humans.
- Agents: the roster of council and army agents, with their roles and colors.
- Chat: shared rooms and 1:1 threads with an agent; @mentions route a message to agents.
- Tasks: move backlog -> todo -> researching -> planning -> building -> verifying -> done.
- Timeline: the activity log of a task, grouped by day, with handoffs between agents.
- Health: probes the web server, the API and the database and reduces them to one status.
- Workspace: clawlegion.yml plus a .clawlegion directory holding local preferences.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLAWLEGION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("backend-url", "", "backend base URL (overrides clawlegion.yml)")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier used for auth and authorship")
	rootCmd.PersistentFlags().String("api-key", "", "backend API key")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	for _, name := range []string{"workspace", "json", "backend-url", "actor-id", "api-key", "log-level", "no-color"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(roomsCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func overrides() app.Overrides {
	return app.Overrides{
		BackendURL: viper.GetString("backend-url"),
		ActorID:    viper.GetString("actor-id"),
		APIKey:     viper.GetString("api-key"),
	}
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	logger := newLogger()
	slog.SetDefault(logger)
	env, err := app.Resolve(ctx, viper.GetString("workspace"), overrides(), logger)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func colorEnabled() bool {
	if viper.GetBool("no-color") || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	if colorEnabled() {
		tw.SetStyle(table.StyleColoredDark)
	} else {
		tw.SetStyle(table.StyleLight)
	}
	tw.AppendHeader(header)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var errNotConfirmed = errors.New("not confirmed")

// stdinIsTerminal is swapped in tests.
var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// confirmDelete passes when --yes was given or the user answers y on a terminal.
// Without a terminal and without --yes the delete is refused.
func confirmDelete(cmd *cobra.Command, yes bool, what string) error {
	if yes {
		return nil
	}
	if !stdinIsTerminal() {
		return fmt.Errorf("refusing to delete %s without --yes", what)
	}
	return confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Delete %s?", what))
}

func confirm(in io.Reader, out io.Writer, prompt string) error {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	}
	return errNotConfirmed
}
