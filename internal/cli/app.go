// Package cli implements todoctl, a command line client for the card server.
package cli

import (
	"time"

	"github.com/urfave/cli/v2"
)

func NewApp() *cli.App {
	app := &cli.App{
		Name:  "todoctl",
		Usage: "Inspect and drive a Canvas to-do card",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Card server base URL",
				EnvVars: []string{"TODOCTL_SERVER"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:     "profile",
				Aliases:  []string{"p"},
				Usage:    "Experience user id owning the card",
				EnvVars:  []string{"TODOCTL_PROFILE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "token",
				Aliases: []string{"t"},
				Usage:   "Profile token issued for the profile",
				EnvVars: []string{"TODOCTL_TOKEN"},
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print raw JSON instead of a table",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Print the Canvas sign-in URL",
				Action: loginAction,
			},
			{
				Name:   "status",
				Usage:  "Show sign-in state and task phase",
				Action: statusAction,
			},
			{
				Name:   "tasks",
				Usage:  "List the card's tasks",
				Action: tasksAction,
			},
			{
				Name:   "refresh",
				Usage:  "Reload tasks from Canvas",
				Action: refreshAction,
			},
			{
				Name:      "toggle",
				Usage:     "Flip the completion of a planner note",
				ArgsUsage: "<task-id>",
				Action:    toggleAction,
			},
			{
				Name:      "visibility",
				Usage:     "Report the card as shown or hidden",
				ArgsUsage: "<shown|hidden>",
				Action:    visibilityAction,
			},
			{
				Name:   "logout",
				Usage:  "Sign out of Canvas on every instance",
				Action: logoutAction,
			},
			{
				Name:  "issue-token",
				Usage: "Sign a profile token with the server's signing key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "signing-key",
						Usage:    "Shared profile signing key",
						EnvVars:  []string{"PROFILE_SIGNING_KEY"},
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "How long the token stays valid",
						Value: 24 * time.Hour,
					},
				},
				Action: issueTokenAction,
			},
		},
	}

	return app
}
