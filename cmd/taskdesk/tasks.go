package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/notify"
	tasksync "github.com/nhle/taskdesk/internal/sync"
	"github.com/nhle/taskdesk/internal/tasks"
	"github.com/nhle/taskdesk/internal/view"
)

func tasksCmd() *cobra.Command {
	var (
		status, priority, sortKey string
		page, limit               int
		asJSON                    bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List one page of tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, ok := view.ParseSortKey(sortKey)
			if !ok {
				return fmt.Errorf("unknown sort key %q", sortKey)
			}

			e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()

			scope, err := startStoredSession(e)
			if err != nil {
				return err
			}
			defer e.sessions.Logout()

			if limit <= 0 {
				limit = e.cfg.Tasks.PageSize
			}
			f := tasks.Filter{Status: status, Priority: priority}
			if err := scope.Tasks.LoadPage(cmd.Context(), f, page, limit); err != nil {
				return err
			}

			snap := scope.Tasks.Snapshot()
			list := view.Project(snap, nil, key)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTasks(list, time.Now()))
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d · %d tasks · %s\n",
				snap.Pagination.Page, snap.Pagination.TotalPages, snap.Pagination.Total, key.Label())
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, in-progress, completed)")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority (low, medium, high)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default from config)")
	cmd.Flags().StringVar(&sortKey, "sort", string(view.CreatedDesc), "display order")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func renderTasks(list []model.Task, now time.Time) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TITLE", "STATUS", "PRIORITY", "DUE", "SHARED")
	for _, task := range list {
		due := ""
		if task.DueDate != nil {
			due = task.DueDate.Local().Format("2006-01-02")
			if task.IsOverdue(now) {
				due += " !"
			}
		}
		t.Row(task.ID, task.Title, task.Status, task.Priority, due, strconv.Itoa(len(task.SharedWith)))
	}
	return t.String()
}

func notificationsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications, optionally following new pushes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()

			scope, err := startStoredSession(e)
			if err != nil {
				return err
			}
			defer e.sessions.Logout()

			if err := scope.Notifications.LoadInitial(cmd.Context(), e.cfg.Notifications.Limit); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			snap := scope.Notifications.Snapshot()
			now := time.Now()
			for _, n := range snap.Items {
				fmt.Fprintln(out, formatNotification(n, now))
			}
			fmt.Fprintf(out, "%d unread\n", snap.UnreadCount)

			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scope.Pump.Start()
			for {
				next := make(chan any, 1)
				go func() { next <- scope.Pump.WaitForNextResult()() }()

				select {
				case <-ctx.Done():
					return nil
				case msg := <-next:
					switch msg := msg.(type) {
					case tasksync.PushMsg:
						fmt.Fprintln(out, formatNotification(msg.Notification, time.Now()))
					case tasksync.ChannelStatusMsg:
						e.log.Infow("push channel", "state", msg.Status.State.String(), "error", msg.Status.Error)
					case tasksync.AuthErrorMsg:
						return errors.New(msg.Message)
					case nil:
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing pushed notifications")
	return cmd
}

func formatNotification(n model.Notification, now time.Time) string {
	mark := " "
	if !n.Read {
		mark = "•"
	}
	return fmt.Sprintf("%s %-10s %s", mark, notify.RelativeTime(n.CreatedAt, now), n.Message)
}
