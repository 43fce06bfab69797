package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clawlegion/internal/app"
	"clawlegion/internal/domain"
	"clawlegion/internal/lifecycle"
	"clawlegion/internal/timeline"
	"clawlegion/internal/wizard"
	clawsdk "clawlegion/sdk/go"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Aliases: []string{"tasks"}, Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskPriorityCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskSubtasksCmd())
	task.AddCommand(taskCommentsCmd())
	task.AddCommand(taskPhasesCmd())
	task.AddCommand(taskTimelineCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f clawsdk.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				tasks, err := env.Client.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable(table.Row{"ID", "Title", "Priority", "Status", "Assignee"})
				for _, t := range tasks {
					meta := lifecycle.StatusMeta(t.Status)
					id := t.ShortID
					if id == "" {
						id = t.ID
					}
					assignee := ""
					if t.Assignee != "" {
						a := env.Agents.Resolve(t.Assignee)
						assignee = a.Emoji + " " + a.Name
					}
					tw.AppendRow(table.Row{id, t.Title, t.Priority, meta.Emoji + " " + meta.Label, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter (P0-P3)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Client.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

type createFlags struct {
	prompt       string
	expand       bool
	title        string
	description  string
	priority     string
	repo         string
	parent       string
	specs        string
	approach     string
	preset       string
	template     string
	addTemplates []string
	criteria     []string
	toggle       []string
	order        []string
	resources    []string
	saveTemplate string
	dryRun       bool
}

func taskCreateCmd() *cobra.Command {
	var f createFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task from a prompt (optionally AI-expanded) or explicit fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				w := wizard.New(wizard.Options{
					CreatedBy: env.Config.Backend.ActorID,
					Templates: env.State.SavedTemplates(ctx),
					Logger:    env.Logger,
				})
				if err := fillDraft(ctx, env, w, f); err != nil {
					return err
				}
				if f.saveTemplate != "" && w.CanSaveTemplate() {
					if _, err := w.SaveAsTemplate(ctx, env.State, f.saveTemplate); err != nil {
						return err
					}
				}
				if f.dryRun {
					if err := w.Validate(); err != nil {
						return err
					}
					return printJSON(w.Payload())
				}
				task, err := w.Submit(ctx, env.Client)
				if err != nil {
					var ve *wizard.ValidationError
					if errors.As(err, &ve) {
						return fmt.Errorf("%s: %s", ve.Field, ve.Message)
					}
					return err
				}
				return printJSONOrTable(task)
			})
		},
	}
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "free-text description of the task")
	cmd.Flags().BoolVar(&f.expand, "expand", false, "ask the backend to structure the prompt")
	cmd.Flags().StringVar(&f.title, "title", "", "task title")
	cmd.Flags().StringVar(&f.description, "description", "", "task description")
	cmd.Flags().StringVar(&f.priority, "priority", "", "priority P0-P3 (default P2)")
	cmd.Flags().StringVar(&f.repo, "repo", "", "repository id (defaults to the only repository)")
	cmd.Flags().StringVar(&f.parent, "parent", "", "parent task id")
	cmd.Flags().StringVar(&f.specs, "specs", "", "technical specs")
	cmd.Flags().StringVar(&f.approach, "approach", "", "implementation approach")
	cmd.Flags().StringVar(&f.preset, "preset", "", "flow preset: standard, quick-fix, research-only")
	cmd.Flags().StringVar(&f.template, "template", "", "criteria template replacing the current criteria")
	cmd.Flags().StringArrayVar(&f.addTemplates, "add-template", nil, "criteria template merged into the current criteria (repeatable)")
	cmd.Flags().StringArrayVar(&f.criteria, "criterion", nil, "extra success criterion (repeatable)")
	cmd.Flags().StringSliceVar(&f.toggle, "toggle-agent", nil, "flow roles to toggle on or off")
	cmd.Flags().StringSliceVar(&f.order, "order", nil, "order of the enabled flow roles")
	cmd.Flags().StringArrayVar(&f.resources, "resource", nil, "role=level resource override, e.g. builder=high (repeatable)")
	cmd.Flags().StringVar(&f.saveTemplate, "save-template", "", "save the final criteria as a named template")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the request instead of creating the task")
	return cmd
}

func fillDraft(ctx context.Context, env *app.Env, w *wizard.Wizard, f createFlags) error {
	w.SetPrompt(f.prompt, f.repo)
	if f.expand {
		if err := w.Expand(ctx, env.Client); err != nil {
			return err
		}
	} else {
		w.SkipExpansion()
	}
	if f.title != "" {
		w.SetTitle(f.title)
	}
	if f.description != "" {
		w.SetDescription(f.description)
	}
	if f.priority != "" {
		if err := w.SetPriority(domain.Priority(strings.ToUpper(f.priority))); err != nil {
			return err
		}
	}
	if f.parent != "" {
		w.SetParent(f.parent)
	}
	if f.specs != "" {
		w.SetSpecs(f.specs)
	}
	if f.approach != "" {
		w.SetApproach(f.approach)
	}
	if w.Draft().RepositoryID == "" {
		repos, err := env.Client.Repositories(ctx)
		if err != nil {
			env.Logger.Debug("list repositories", "err", err)
		} else if len(repos) == 1 {
			w.SetRepository(repos[0].ID)
		}
	}
	if f.preset != "" {
		if err := w.ApplyPreset(f.preset); err != nil {
			return err
		}
	}
	for _, role := range f.toggle {
		w.ToggleAgent(domain.AgentRole(role))
	}
	for _, spec := range f.resources {
		role, level, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("invalid --resource %q, want role=level", spec)
		}
		if err := w.SetResourceLevel(domain.AgentRole(role), domain.ResourceLevel(level)); err != nil {
			return err
		}
	}
	if len(f.order) > 0 {
		roles := make([]domain.AgentRole, len(f.order))
		for i, r := range f.order {
			roles[i] = domain.AgentRole(r)
		}
		if err := w.Reorder(roles); err != nil {
			return err
		}
	}
	if f.template != "" {
		if err := w.ApplyTemplate(f.template); err != nil {
			return err
		}
	}
	for _, id := range f.addTemplates {
		if _, err := w.AddFromTemplate(id); err != nil {
			return err
		}
	}
	for _, text := range f.criteria {
		if _, err := w.AddCriterion(text); err != nil {
			return err
		}
	}
	return nil
}

func taskStatusCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Client.SetStatus(ctx, args[0], args[1], env.Config.Backend.ActorID, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded with the change")
	return cmd
}

func taskPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <task-id> <P0|P1|P2|P3>",
		Short: "Change task priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := domain.Priority(strings.ToUpper(args[1]))
			if !p.Valid() {
				return fmt.Errorf("invalid priority %s", args[1])
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Client.UpdateTask(ctx, args[0], clawsdk.TaskUpdate{Priority: &p})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task (asks for confirmation unless --yes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirmDelete(cmd, yes, "task "+args[0]); err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Client.DeleteTask(ctx, args[0])
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking")
	return cmd
}

func taskSubtasksCmd() *cobra.Command {
	var add string
	cmd := &cobra.Command{
		Use:   "subtasks <task-id>",
		Short: "List subtasks, or add one with --add",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if add != "" {
					sub, err := env.Client.CreateSubtask(ctx, args[0], clawsdk.CreateTaskRequest{
						Title:           add,
						Description:     add,
						Priority:        domain.PriorityP2,
						SuccessCriteria: []string{},
						CreatedBy:       env.Config.Backend.ActorID,
					})
					if err != nil {
						return err
					}
					return printJSONOrTable(sub)
				}
				t, err := env.Client.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t.Subtasks)
				}
				tw := newTable(table.Row{"ID", "Title", "Status"})
				for _, s := range t.Subtasks {
					tw.AppendRow(table.Row{s.ID, s.Title, lifecycle.StatusMeta(s.Status).Label})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&add, "add", "", "title of a subtask to create")
	return cmd
}

func taskCommentsCmd() *cobra.Command {
	var add string
	cmd := &cobra.Command{
		Use:   "comments <task-id>",
		Short: "List comments, or post one with --add",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if add != "" {
					c, err := env.Client.AddComment(ctx, args[0], env.Config.Backend.ActorID, add)
					if err != nil {
						return err
					}
					return printJSONOrTable(c)
				}
				comments, err := env.Client.Comments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(comments)
				}
				for _, c := range comments {
					author := env.Agents.Resolve(c.Author)
					name := c.Author
					if !author.Fallback {
						name = author.Emoji + " " + author.Name
					}
					fmt.Printf("[%s] %s: %s\n", c.CreatedAt.Local().Format("Jan 2 15:04"), name, c.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&add, "add", "", "comment text to post")
	return cmd
}

func taskPhasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phases <task-id>",
		Short: "Show the lifecycle phase strip of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Client.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				acts, err := env.Client.Activities(ctx, args[0])
				if err != nil {
					return err
				}
				phases := lifecycle.Compute(t, acts, time.Now())
				if viper.GetBool("json") {
					return printJSON(phases)
				}
				tw := newTable(table.Row{"Phase", "State", "Agent", "Time"})
				for _, p := range phases {
					meta := lifecycle.StatusMeta(string(p.Phase))
					agent := env.Agents.Resolve(p.Agent)
					dur := ""
					if p.HasDuration {
						dur = timeline.FormatDuration(p.Duration)
					}
					tw.AppendRow(table.Row{meta.Emoji + " " + p.Label, p.State, agent.Emoji + " " + agent.Name, dur})
				}
				tw.Render()
				if n, ok := lifecycle.Banner(t.Status); ok {
					fmt.Fprintf(os.Stdout, "%s: %s\n", n.Label, n.Message)
				}
				return nil
			})
		},
	}
}

func taskTimelineCmd() *cobra.Command {
	var handoffs bool
	cmd := &cobra.Command{
		Use:   "timeline <task-id>",
		Short: "Show the activity timeline of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				acts, err := env.Client.Activities(ctx, args[0])
				if err != nil {
					return err
				}
				now := time.Now()
				opts := timeline.RenderOptions{Agents: env.Agents, Plain: !colorEnabled()}
				if handoffs {
					segs := timeline.Handoffs(acts, now)
					if viper.GetBool("json") {
						return printJSON(segs)
					}
					return timeline.RenderHandoffs(os.Stdout, segs, opts)
				}
				groups := timeline.GroupByDay(acts, now, time.Local)
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				return timeline.Render(os.Stdout, groups, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&handoffs, "handoffs", false, "show per-agent handoff segments instead")
	return cmd
}
