package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clawlegion/internal/app"
	"clawlegion/internal/config"
	"clawlegion/internal/wizard"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage clawlegion.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default clawlegion.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := app.ApplyOverrides(cfg, overrides()); err != nil {
				return err
			}
			cfg.Backend.APIKey = redact(cfg.Backend.APIKey)
			cfg.Backend.JWTSecret = redact(cfg.Backend.JWTSecret)
			cfg.Server.APIKey = redact(cfg.Server.APIKey)
			cfg.Server.JWTSecret = redact(cfg.Server.JWTSecret)
			return printJSONOrTable(cfg)
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate clawlegion.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func agentsCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agents", Short: "Inspect the agent roster"}
	ag.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List council and army agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				all := env.Agents.All()
				if viper.GetBool("json") {
					return printJSON(all)
				}
				tw := newTable(table.Row{"ID", "Agent", "Role", "Tier", "Capabilities"})
				for _, a := range all {
					tw.AppendRow(table.Row{a.ID, a.Emoji + " " + a.Name, a.Role, a.Tier, strings.Join(a.Capabilities, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	})
	ag.AddCommand(&cobra.Command{
		Use:   "show <id|name>",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return printJSONOrTable(env.Agents.Resolve(args[0]))
			})
		},
	})
	return ag
}

func templatesCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "templates", Short: "Success criteria templates"}
	tpl.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in and saved templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				list := append(wizard.BuiltinTemplates(), env.State.SavedTemplates(ctx)...)
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable(table.Row{"ID", "Name", "Criteria", "Saved"})
				for _, t := range list {
					tw.AppendRow(table.Row{t.ID, t.Name, len(t.Criteria), t.Saved})
				}
				tw.Render()
				return nil
			})
		},
	})

	var name string
	var criteria []string
	save := &cobra.Command{
		Use:   "save",
		Short: "Save a criteria template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				id, err := env.State.SaveTemplate(ctx, name, criteria)
				if err != nil {
					return err
				}
				return printJSONOrTable(wizard.Template{ID: id, Name: name, Criteria: criteria, Saved: true})
			})
		},
	}
	save.Flags().StringVar(&name, "name", "", "template name")
	save.Flags().StringArrayVar(&criteria, "criterion", nil, "criterion text (repeatable)")
	_ = save.MarkFlagRequired("name")
	tpl.AddCommand(save)

	tpl.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.State.DeleteTemplate(ctx, args[0])
			})
		},
	})
	return tpl
}
