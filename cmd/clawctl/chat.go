package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clawlegion/internal/agents"
	"clawlegion/internal/app"
	"clawlegion/internal/chatsync"
	"clawlegion/internal/domain"
)

const lastTargetKey = "chat.last_target"

func roomsCmd() *cobra.Command {
	rooms := &cobra.Command{Use: "rooms", Short: "Manage chat rooms"}
	rooms.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Client.ListRooms(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Participants", "Updated"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Name, strings.Join(r.Participants, ", "), r.UpdatedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	})

	var name, desc string
	var participants []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				ids, err := resolveAgents(env.Agents, participants)
				if err != nil {
					return err
				}
				room, err := env.Client.CreateRoom(ctx, name, desc, ids)
				if err != nil {
					return err
				}
				return printJSONOrTable(room)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "room name")
	create.Flags().StringVar(&desc, "description", "", "room description")
	create.Flags().StringSliceVar(&participants, "agent", nil, "participant agent ids or names")
	_ = create.MarkFlagRequired("name")
	rooms.AddCommand(create)

	var yes bool
	del := &cobra.Command{
		Use:   "delete <room-id>",
		Short: "Delete a room (asks for confirmation unless --yes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirmDelete(cmd, yes, "room "+args[0]); err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Client.DeleteRoom(ctx, args[0])
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking")
	rooms.AddCommand(del)
	rooms.AddCommand(&cobra.Command{
		Use:   "add <room-id> <agent>",
		Short: "Add an agent to a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				ids, err := resolveAgents(env.Agents, args[1:])
				if err != nil {
					return err
				}
				return env.Client.AddParticipant(ctx, args[0], ids[0])
			})
		},
	})
	rooms.AddCommand(&cobra.Command{
		Use:   "remove <room-id> <agent>",
		Short: "Remove an agent from a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				ids, err := resolveAgents(env.Agents, args[1:])
				if err != nil {
					return err
				}
				return env.Client.RemoveParticipant(ctx, args[0], ids[0])
			})
		},
	})
	return rooms
}

func resolveAgents(reg *agents.Registry, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, n := range names {
		a, ok := reg.ByID(n)
		if !ok {
			a, ok = reg.ByName(n)
		}
		if !ok {
			return nil, fmt.Errorf("unknown agent %s", n)
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

type targetFlags struct {
	room  string
	agent string
}

func (f *targetFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.room, "room", "", "room id")
	cmd.Flags().StringVar(&f.agent, "agent", "", "agent id or name for a direct thread")
}

// resolve picks the flagged target, else the last one used in this workspace.
func (f *targetFlags) resolve(ctx context.Context, env *app.Env) (domain.ChatTarget, error) {
	switch {
	case f.room != "" && f.agent != "":
		return domain.ChatTarget{}, errors.New("use either --room or --agent")
	case f.room != "":
		return domain.RoomTarget(f.room), nil
	case f.agent != "":
		ids, err := resolveAgents(env.Agents, []string{f.agent})
		if err != nil {
			return domain.ChatTarget{}, err
		}
		return domain.DMTarget(ids[0]), nil
	}
	if last, ok := env.State.Preference(ctx, lastTargetKey); ok {
		kind, id, found := strings.Cut(last, ":")
		if found && id != "" && (kind == string(domain.TargetRoom) || kind == string(domain.TargetDM)) {
			return domain.ChatTarget{Kind: domain.TargetKind(kind), ID: id}, nil
		}
	}
	return domain.ChatTarget{}, errors.New("--room or --agent required")
}

func chatCmd() *cobra.Command {
	chat := &cobra.Command{Use: "chat", Short: "Read and send chat messages"}
	chat.AddCommand(chatHistoryCmd())
	chat.AddCommand(chatSendCmd())
	chat.AddCommand(chatWatchCmd())
	return chat
}

func chatHistoryCmd() *cobra.Command {
	var tf targetFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the messages of a room or direct thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				target, err := tf.resolve(ctx, env)
				if err != nil {
					return err
				}
				opts := env.ChatOptions()
				opts.Disabled = true
				s := chatsync.New(env.Client, opts)
				defer s.Close()
				if err := s.SetTarget(ctx, target); err != nil {
					return err
				}
				st := s.State()
				if st.Err != nil {
					return st.Err
				}
				if viper.GetBool("json") {
					return printJSON(st.Messages)
				}
				p := newMessagePrinter(env.Agents)
				for _, m := range st.Messages {
					p.print(m)
				}
				return nil
			})
		},
	}
	tf.bind(cmd)
	return cmd
}

func chatSendCmd() *cobra.Command {
	var tf targetFlags
	var attach, to []string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message, optionally with media attachments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				target, err := tf.resolve(ctx, env)
				if err != nil {
					return err
				}
				content := ""
				if len(args) == 1 {
					content = args[0]
				}
				if target.Kind == domain.TargetRoom {
					content, err = withSelectedAgents(ctx, env, target.ID, to, content)
					if err != nil {
						return err
					}
				}
				var attachments []domain.ChatAttachment
				for _, path := range attach {
					a, err := uploadFile(ctx, env, path)
					if err != nil {
						return err
					}
					attachments = append(attachments, a)
				}
				opts := env.ChatOptions()
				opts.Disabled = true
				s := chatsync.New(env.Client, opts)
				defer s.Close()
				if err := s.SetTarget(ctx, target); err != nil {
					return err
				}
				sent, err := s.Send(ctx, content, attachments)
				if err != nil {
					return err
				}
				if !sent {
					return errors.New("nothing to send")
				}
				if err := env.State.SetPreference(ctx, lastTargetKey, target.String()); err != nil {
					env.Logger.Debug("remember chat target", "err", err)
				}
				msgs := s.State().Messages
				if viper.GetBool("json") && len(msgs) > 0 {
					return printJSON(msgs[len(msgs)-1])
				}
				fmt.Printf("sent to %s\n", target)
				return nil
			})
		},
	}
	tf.bind(cmd)
	cmd.Flags().StringArrayVar(&attach, "attach", nil, "file to upload and attach (repeatable)")
	cmd.Flags().StringSliceVar(&to, "to", nil, "agents to address in a room; remembered per room")
	return cmd
}

// withSelectedAgents prefixes the room's selected agents as @mentions. An
// explicit --to replaces the remembered selection.
func withSelectedAgents(ctx context.Context, env *app.Env, roomID string, to []string, content string) (string, error) {
	ids := env.State.SelectedAgents(ctx, roomID)
	if len(to) > 0 {
		resolved, err := resolveAgents(env.Agents, to)
		if err != nil {
			return "", err
		}
		ids = resolved
		if err := env.State.SetSelectedAgents(ctx, roomID, ids); err != nil {
			env.Logger.Debug("remember selected agents", "room", roomID, "err", err)
		}
	}
	if len(ids) == 0 || strings.TrimSpace(content) == "" {
		return content, nil
	}
	already, _ := chatsync.ExtractMentions(content)
	have := make(map[string]bool, len(already))
	for _, m := range already {
		have[m] = true
	}
	var prefix []string
	for _, id := range ids {
		if !have[strings.ToLower(id)] {
			prefix = append(prefix, "@"+id)
		}
	}
	if len(prefix) == 0 {
		return content, nil
	}
	return strings.Join(prefix, " ") + " " + content, nil
}

func uploadFile(ctx context.Context, env *app.Env, path string) (domain.ChatAttachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.ChatAttachment{}, err
	}
	defer f.Close()
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	kind, err := attachmentKind(mimeType)
	if err != nil {
		return domain.ChatAttachment{}, fmt.Errorf("%s: %w", path, err)
	}
	return env.Client.Upload(ctx, kind, filepath.Base(path), mimeType, f)
}

func attachmentKind(mimeType string) (domain.AttachmentType, error) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return domain.AttachmentImage, nil
	case strings.HasPrefix(mimeType, "audio/"):
		return domain.AttachmentAudio, nil
	case strings.HasPrefix(mimeType, "video/"):
		return domain.AttachmentVideo, nil
	}
	return "", fmt.Errorf("unsupported attachment type %q", mimeType)
}

func chatWatchCmd() *cobra.Command {
	var tf targetFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a conversation; lines typed on stdin are sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				target, err := tf.resolve(ctx, env)
				if err != nil {
					return err
				}
				s := chatsync.New(env.Client, env.ChatOptions())
				defer s.Close()
				if err := s.SetTarget(ctx, target); err != nil {
					return err
				}
				_ = env.State.SetPreference(ctx, lastTargetKey, target.String())
				fmt.Printf("watching %s (ctrl-c to quit)\n", target)

				go func() {
					in := bufio.NewScanner(os.Stdin)
					for in.Scan() {
						if _, err := s.Send(ctx, in.Text(), nil); err != nil {
							env.Logger.Warn("send failed", "err", err)
						}
					}
				}()

				p := newMessagePrinter(env.Agents)
				var lastErr error
				for {
					st := s.State()
					for _, m := range st.Messages {
						if !m.Pending {
							p.print(m)
						}
					}
					if st.Err != nil && !errors.Is(st.Err, lastErr) {
						fmt.Fprintln(os.Stderr, "sync error:", st.Err)
					}
					lastErr = st.Err
					select {
					case <-ctx.Done():
						return nil
					case _, ok := <-s.Updates():
						if !ok {
							return nil
						}
					}
				}
			})
		},
	}
	tf.bind(cmd)
	return cmd
}

type messagePrinter struct {
	reg   *agents.Registry
	seen  map[string]bool
	color bool
	r     *lipgloss.Renderer
}

func newMessagePrinter(reg *agents.Registry) *messagePrinter {
	return &messagePrinter{reg: reg, seen: map[string]bool{}, color: colorEnabled(), r: lipgloss.NewRenderer(os.Stdout)}
}

func (p *messagePrinter) print(m domain.ChatMessage) {
	if p.seen[m.ID] {
		return
	}
	p.seen[m.ID] = true
	name := m.SenderName
	if m.SenderType == domain.SenderAgent {
		a := p.reg.Resolve(m.SenderID)
		name = a.Emoji + " " + a.Name
		if a.Fallback && m.SenderName != "" {
			name = a.Emoji + " " + m.SenderName
		}
		if p.color {
			name = p.r.NewStyle().Bold(true).Foreground(lipgloss.Color(a.Color)).Render(name)
		}
	} else if name == "" {
		name = m.SenderID
	}
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), name, m.Content)
	for _, a := range m.Attachments {
		fmt.Printf("        📎 %s %s (%s)\n", a.Type, a.Filename, a.URL)
	}
}
