// cmd/matchmaker/lobbies.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jason-s-yu/matchmaker/internal/clock"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/matchmaking"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/spf13/cobra"
)

func newLobbiesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lobbies",
		Short: "List open lobbies, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rdb, repo, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer rdb.Close()

			lm := lobby.NewLobbyManager(repo, clock.Real{}, nil, nil, a.logger, lobby.Options{
				MaxJoiners:   a.cfg.MaxJoiners,
				HeartbeatTTL: a.cfg.HeartbeatTTL,
			})
			open, err := lm.OpenLobbies(cmd.Context())
			if err != nil {
				return err
			}
			printLobbies(cmd.OutOrStdout(), open, a.cfg.MaxJoiners, time.Now())
			return nil
		},
	}
}

func printLobbies(w io.Writer, lobbies []*models.Lobby, maxJoiners int, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOST\tJOINERS\tREADY\tSTARTED\tAGE")
	for _, l := range lobbies {
		created := time.UnixMilli(l.CreatedAt)
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%t\t%t\t%s\n",
			l.ID, l.Host.PlayerID, len(l.Joiners), maxJoiners, l.IsReady, l.HasStarted,
			humanize.RelTime(created, now, "ago", "from now"))
	}
	tw.Flush()
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print open lobbies and queue lengths per side",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rdb, repo, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer rdb.Close()

			lm := lobby.NewLobbyManager(repo, clock.Real{}, nil, nil, a.logger, lobby.Options{
				MaxJoiners:   a.cfg.MaxJoiners,
				HeartbeatTTL: a.cfg.HeartbeatTTL,
			})
			mm := matchmaking.NewMatchmaker(repo, lm, clock.Real{}, nil, nil, a.logger, matchmaking.Options{
				MaxJoiners:      a.cfg.MaxJoiners,
				AvgMatchSeconds: a.cfg.AvgMatchSeconds,
			})
			stats, err := mm.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
