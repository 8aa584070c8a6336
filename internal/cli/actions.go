package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/canvastodo/card-server-go/internal/card"
	"github.com/canvastodo/card-server-go/internal/todo"
	"github.com/canvastodo/card-server-go/internal/util"
)

func newClient(c *cli.Context) (*Client, error) {
	profile := c.String("profile")
	if !util.IsValidProfileID(profile) {
		return nil, cli.Exit(fmt.Sprintf("invalid profile id %q", profile), 2)
	}
	return NewClient(c.String("server"), profile, c.String("token"))
}

func issueTokenAction(c *cli.Context) error {
	profile := c.String("profile")
	if !util.IsValidProfileID(profile) {
		return cli.Exit(fmt.Sprintf("invalid profile id %q", profile), 2)
	}
	if c.Duration("ttl") <= 0 {
		return cli.Exit("--ttl must be positive", 2)
	}
	token := util.SignProfileToken(c.String("signing-key"), profile, time.Now().Add(c.Duration("ttl")))
	fmt.Fprintln(c.App.Writer, token)
	return nil
}

func loginAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	authURL, err := client.LoginURL(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Open this URL to sign in to Canvas:")
	fmt.Fprintln(c.App.Writer, authURL)
	return nil
}

func statusAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	snap, err := client.Status(c.Context)
	if err != nil {
		return err
	}
	return printCard(c, snap)
}

func tasksAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	snap, err := client.Tasks(c.Context)
	if err != nil {
		return err
	}
	return printTasks(c, snap)
}

func refreshAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	snap, err := client.Refresh(c.Context)
	if err != nil {
		return err
	}
	return printTasks(c, snap)
}

func toggleAction(c *cli.Context) error {
	taskID := c.Args().First()
	if !util.IsValidTaskID(taskID) {
		return cli.Exit("usage: todoctl toggle <task-id> (e.g. planner-123)", 2)
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	result, err := client.Toggle(c.Context, taskID)
	if err != nil {
		return err
	}
	if result.Refused {
		fmt.Fprintf(c.App.ErrWriter, "%s can only be completed by submitting it in Canvas\n", taskID)
	}
	return printTasks(c, &result.Snapshot)
}

func visibilityAction(c *cli.Context) error {
	var visible bool
	switch c.Args().First() {
	case "shown":
		visible = true
	case "hidden":
	default:
		return cli.Exit("usage: todoctl visibility <shown|hidden>", 2)
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	snap, err := client.SetVisible(c.Context, visible)
	if err != nil {
		return err
	}
	return printTasks(c, snap)
}

func logoutAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	snap, err := client.Logout(c.Context)
	if err != nil {
		return err
	}
	return printCard(c, snap)
}

func printCard(c *cli.Context, snap *card.Snapshot) error {
	if c.Bool("json") {
		return printJSON(c.App.Writer, snap)
	}
	w := c.App.Writer
	fmt.Fprintf(w, "profile:   %s\n", snap.ProfileID)
	fmt.Fprintf(w, "signed in: %t\n", snap.Auth.LoggedIn)
	fmt.Fprintf(w, "auth:      %s (%s)\n", snap.Auth.State, snap.Auth.Phase)
	if snap.Auth.Error {
		fmt.Fprintln(w, "auth error: last sign-in attempt failed")
	}
	fmt.Fprintf(w, "tasks:     %d (%s)\n", len(snap.Tasks.Tasks), snap.Tasks.Phase)
	return nil
}

func printTasks(c *cli.Context, snap *todo.Snapshot) error {
	if c.Bool("json") {
		return printJSON(c.App.Writer, snap)
	}
	if snap.Error {
		fmt.Fprintln(c.App.Writer, "warning: the last Canvas request failed, tasks may be stale")
	}
	if len(snap.Tasks) == 0 {
		fmt.Fprintln(c.App.Writer, "no tasks")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tDUE\tCOURSE\tTITLE")
	for _, t := range snap.Tasks {
		due := "-"
		if t.Due != nil {
			due = t.Due.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, due, t.CourseName, t.Title)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
