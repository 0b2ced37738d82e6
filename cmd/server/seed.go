package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tg11/boundless/internal/app"
	"github.com/tg11/boundless/internal/auth"
	"github.com/tg11/boundless/internal/store"
)

type seedOptions struct {
	owner    string
	password string
	server   string
	channel  string
}

// newSeedCmd creates a demo server with one public channel owned by a fresh
// user, and prints the route and a token for it.
func newSeedCmd(root *rootOptions) *cobra.Command {
	opts := seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo server, channel and owner account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(root)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(&cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			authService := auth.NewService(st, app.JWTConfig(&cfg))
			token, err := authService.Register(ctx, opts.owner, "", opts.password)
			if err != nil {
				return fmt.Errorf("register owner: %w", err)
			}
			owner, err := st.GetUserByUsername(ctx, opts.owner)
			if err != nil {
				return err
			}

			srv, err := st.CreateServer(ctx, owner.ID, opts.server)
			if err != nil {
				return err
			}
			categoryID, err := st.CreateCategory(ctx, srv.ID, "text")
			if err != nil {
				return err
			}
			ch := &store.Channel{ServerID: srv.ID, CategoryID: categoryID, Name: opts.channel}
			if err := st.CreateChannel(ctx, ch); err != nil {
				return err
			}

			logger.Info().Str("server", srv.ID).Str("channel", ch.ID).Int64("owner", owner.ID).Msg("seeded")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "route: /ws/servers/%s/%s/%s\n", srv.ID, categoryID, ch.ID)
			fmt.Fprintf(out, "token: %s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.owner, "owner", "admin", "owner username")
	cmd.Flags().StringVar(&opts.password, "password", "changeme", "owner password")
	cmd.Flags().StringVar(&opts.server, "server", "Boundless", "server name")
	cmd.Flags().StringVar(&opts.channel, "channel", "general", "channel name")
	return cmd
}
