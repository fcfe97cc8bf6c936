package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/remote"
	"taskdesk/internal/server"
	"taskdesk/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "Taskdesk CLI",
	Long: `Taskdesk keeps task edits snappy: every change applies locally first
and syncs to the authority in the background. The CLI drives the same
edit session the UI uses, then waits for the sync queue to drain
before printing the confirmed state.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8787", "authority base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "skip confirmation prompts")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("yes", rootCmd.PersistentFlags().Lookup("yes"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(attachCmd())
	rootCmd.AddCommand(memberCmd())
}

// --- session plumbing ---

func service() *remote.HTTPService {
	svc := remote.NewHTTPService(viper.GetString("server"))
	svc.BearerToken = viper.GetString("token")
	return svc
}

// openSession fetches the task and roster and starts an edit session
// over them: apply an edit, Drain, print the snapshot.
func openSession(ctx context.Context, taskID string) (*session.Coordinator, error) {
	svc := service()
	task, err := svc.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	roster, err := svc.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	var syncErr error
	sess := session.New(svc, task, roster, session.Callbacks{
		OnSyncError: func(op string, err error) {
			if syncErr == nil {
				syncErr = fmt.Errorf("%s: %w", op, err)
			}
			fmt.Fprintf(os.Stderr, "warning: %s did not sync: %v\n", op, err)
		},
	}, nil)
	sess.SetActor(viper.GetString("actor-id"))
	return sess, nil
}

// finishSession drains the queue and prints the confirmed snapshot.
func finishSession(sess *session.Coordinator) error {
	sess.Drain()
	snap := sess.Snapshot()
	sess.Close()
	return printTask(snap)
}

func confirmed(prompt string) bool {
	if viper.GetBool("yes") {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

// --- output ---

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"ID", t.ID})
	tw.AppendRow(table.Row{"Title", t.Title})
	if t.Description != "" {
		tw.AppendRow(table.Row{"Description", t.Description})
	}
	tw.AppendRow(table.Row{"Priority", t.Priority})
	tw.AppendRow(table.Row{"Status", t.Status})
	tw.AppendRow(table.Row{"Pinned", t.IsPinned})
	tw.AppendRow(table.Row{"Progress", fmt.Sprintf("%d%%", t.Progress)})
	if t.DueDate != nil {
		tw.AppendRow(table.Row{"Due", *t.DueDate})
	}
	if len(t.AssigneeIDs) > 0 {
		tw.AppendRow(table.Row{"Assignees", strings.Join(t.AssigneeIDs, ", ")})
	}
	if len(t.Tags) > 0 {
		tw.AppendRow(table.Row{"Tags", strings.Join(t.Tags, ", ")})
	}
	tw.AppendRow(table.Row{"Updated", relativeTime(t.UpdatedAt)})
	tw.Render()
	if len(t.Subtasks) > 0 {
		sw := table.NewWriter()
		sw.SetOutputMirror(os.Stdout)
		sw.AppendHeader(table.Row{"Subtask", "Done", "ID"})
		for _, s := range t.Subtasks {
			mark := ""
			if s.Completed {
				mark = "x"
			}
			sw.AppendRow(table.Row{s.Title, mark, s.ID})
		}
		sw.Render()
	}
	if len(t.Comments) > 0 {
		cw := table.NewWriter()
		cw.SetOutputMirror(os.Stdout)
		cw.AppendHeader(table.Row{"Author", "Comment", "When", "ID"})
		for _, c := range t.Comments {
			cw.AppendRow(table.Row{c.AuthorID, c.Content, relativeTime(c.CreatedAt), c.ID})
		}
		cw.Render()
	}
	if len(t.Attachments) > 0 {
		aw := table.NewWriter()
		aw.SetOutputMirror(os.Stdout)
		aw.AppendHeader(table.Row{"Attachment", "Size", "State", "ID"})
		for _, a := range t.Attachments {
			aw.AppendRow(table.Row{a.Name, a.SizeBytes, a.State, a.ID})
		}
		aw.Render()
	}
	return nil
}

func relativeTime(ts string) string {
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	d := time.Since(parsed)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authority HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			log := logrus.New()
			if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
				log.SetLevel(lvl)
			}
			if cfg.Log.File != "" {
				log.SetOutput(&lumberjack.Logger{
					Filename:   filepath.Join(workspace, cfg.Log.File),
					MaxSize:    cfg.Log.MaxSizeMB,
					MaxBackups: cfg.Log.MaxBackups,
				})
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			uploads, err := db.UploadsDir(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, uploads)
			secret := cfg.Auth.JWTSecret
			if env := os.Getenv("TASKDESK_JWT_SECRET"); env != "" {
				secret = env
			}
			handler, err := server.New(server.Config{
				Engine:         e,
				BasePath:       cfg.Server.BasePath,
				Auth:           server.AuthConfig{JWTSecret: secret, DevActor: cfg.Auth.DevActor, Logger: log},
				MaxUploadBytes: cfg.Uploads.MaxSizeBytes,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Listen, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.WithFields(logrus.Fields{"addr": cfg.Server.Listen, "base": cfg.Server.BasePath, "db": db.Path(workspace)}).Info("taskdesk authority listening")
			fmt.Printf("Serving Taskdesk API on http://%s%s\n", cfg.Server.Listen, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	return cmd
}

// --- task ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect and edit tasks"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tasks, pinned first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := service().ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(tasks)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Status", "Pinned", "Updated"})
			for _, t := range tasks {
				tw.AppendRow(table.Row{t.ID, t.Title, t.Priority, t.Status, t.IsPinned, relativeTime(t.UpdatedAt)})
			}
			tw.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := service().GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTask(t)
		},
	})

	var (
		createPriority string
		createDue      string
		createTags     []string
	)
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := service().CreateTask(cmd.Context(), remote.CreateTaskOptions{
				Title:    strings.Join(args, " "),
				Priority: createPriority,
				DueDate:  createDue,
				Tags:     createTags,
			})
			if err != nil {
				return err
			}
			return printTask(t)
		},
	}
	create.Flags().StringVar(&createPriority, "priority", "", "low|medium|high|urgent")
	create.Flags().StringVar(&createDue, "due", "", "due date (YYYY-MM-DD)")
	create.Flags().StringSliceVar(&createTags, "tag", nil, "initial tags")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "set <task-id> <field> <value>",
		Short: "Edit one scalar field (title, description, priority, status, due_date)",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.CommitEdit(args[1], strings.Join(args[2:], " ")); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pin <task-id>",
		Short: "Toggle the pinned flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.TogglePin(); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "archive <task-id>",
		Short: "Archive a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed("Archive task " + args[0] + "?") {
				return errors.New("aborted")
			}
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.Archive(true); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed("Delete task " + args[0] + "? This cannot be undone.") {
				return errors.New("aborted")
			}
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.Delete(true); err != nil {
				sess.Close()
				return err
			}
			sess.Drain()
			sess.Close()
			fmt.Println("deleted", args[0])
			return nil
		},
	})

	return cmd
}

// --- subtasks ---

func subtaskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "subtask", Short: "Edit the subtask checklist"}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <task-id> <title>",
		Short: "Add a subtask",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := sess.AddSubtask(strings.Join(args[1:], " ")); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <task-id> <subtask-id>",
		Short: "Flip a subtask's completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.ToggleSubtask(args[1]); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <task-id> <subtask-id> <title>",
		Short: "Rename a subtask",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.CommitRename(args[1], strings.Join(args[2:], " ")); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <task-id> <subtask-id>",
		Short: "Remove a subtask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.RemoveSubtask(args[1]); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	return cmd
}

// --- tags ---

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tag", Short: "Edit task tags"}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <task-id> <tag>",
		Short: "Add a tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.AddTag(args[1]); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <task-id> <tag>",
		Short: "Remove a tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.RemoveTag(args[1]); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	return cmd
}

// --- comments ---

func commentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "comment", Short: "Edit task comments"}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <task-id> <content>",
		Short: "Add a comment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.OpenNewComment(); err != nil {
				sess.Close()
				return err
			}
			if _, err := sess.CommitComment(strings.Join(args[1:], " ")); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "edit <task-id> <comment-id> <content>",
		Short: "Edit a comment",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.OpenCommentEdit(args[1]); err != nil {
				sess.Close()
				return err
			}
			if _, err := sess.CommitComment(strings.Join(args[2:], " ")); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <task-id> <comment-id>",
		Short: "Delete a comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed("Delete comment " + args[1] + "?") {
				return errors.New("aborted")
			}
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.RemoveComment(args[1], true); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	return cmd
}

// --- assignees ---

func assignCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "assign", Short: "Edit task assignees"}

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <task-id> <member-id>",
		Short: "Flip one member's membership",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.ToggleAssignee(args[1]); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	return cmd
}

// --- attachments ---

func attachCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "attach", Short: "Edit task attachments"}

	cmd.AddCommand(&cobra.Command{
		Use:   "upload <task-id> <file>...",
		Short: "Upload a batch of files",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []remote.File
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				files = append(files, remote.File{
					Name:    filepath.Base(path),
					Size:    int64(len(data)),
					Content: data,
				})
			}
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := sess.UploadAttachments(files); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <task-id> <attachment-id>",
		Short: "Remove an attachment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.RemoveAttachment(args[1]); err != nil {
				sess.Close()
				return err
			}
			return finishSession(sess)
		},
	})

	return cmd
}

// --- members ---

func memberCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage the team roster"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := service().ListMembers(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(members)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name"})
			for _, m := range members {
				tw.AppendRow(table.Row{m.ID, m.Name})
			}
			tw.Render()
			return nil
		},
	})

	var memberID string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a team member",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := service().CreateMember(cmd.Context(), domain.TeamMember{ID: memberID, Name: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}
	add.Flags().StringVar(&memberID, "id", "", "explicit member id")
	cmd.AddCommand(add)

	return cmd
}
