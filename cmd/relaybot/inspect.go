package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/notepid/relaybot/internal/relay"
	"github.com/notepid/relaybot/internal/storage"
	"github.com/notepid/relaybot/internal/user"
)

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Print known users, most recently active first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Show at most `N` users", Value: 50},
			&cli.BoolFlag{Name: "active", Usage: "Hide blocked users"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := store.Users.List(user.ListFilter{ActiveOnly: c.Bool("active"), Limit: c.Int("limit")})
			if err != nil {
				return err
			}
			total, err := store.Users.Count()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUSERNAME\tSTATUS\tLAST ACTIVE")
			for _, u := range users {
				status := "active"
				if u.Blocked {
					status = "blocked"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.DisplayName, u.Username, status, humanize.Time(u.LastActive))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%s users total\n", humanize.Comma(int64(total)))
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print the conversation log of one user",
		ArgsUsage: "<user-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Show the last `N` messages (default bot.history_limit)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: relaybot history <user-id>", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			limit := c.Int("limit")
			if limit <= 0 {
				limit = cfg.Bot.HistoryLimit
			}
			id := c.Args().First()
			entries, err := store.Log.History(id, limit)
			if err != nil {
				return err
			}
			fmt.Println(relay.FormatHistory(id, entries))
			return nil
		},
	}
}
