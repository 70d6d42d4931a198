// waveline-cli is a small demo client: log in with a service token, listen
// to conversation events, send messages and place calls from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wavelinehq/waveline-go/internal/cache/sqlite"
	"github.com/wavelinehq/waveline-go/internal/config"
	"github.com/wavelinehq/waveline-go/internal/log"
	"github.com/wavelinehq/waveline-go/rest"
	"github.com/wavelinehq/waveline-go/transport"
	"github.com/wavelinehq/waveline-go/waveline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "waveline-cli",
		Short:         "Waveline conversation client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(newListenCmd(&configPath))
	root.AddCommand(newSendCmd(&configPath))
	root.AddCommand(newCallCmd(&configPath))
	return root
}

func setup(ctx context.Context, configPath string) (*waveline.Application, *config.Config, error) {
	bootstrap := log.New("info")
	cfg, _, err := config.Load(bootstrap, configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(cfg.LogLevel)

	if cfg.Token == "" {
		return nil, nil, fmt.Errorf("no token configured (set WAVELINE_TOKEN or token in the config file)")
	}

	sock, err := transport.Dial(ctx, cfg.WSURL, cfg.Token, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	opts := waveline.Options{
		Transport: sock,
		REST:      rest.New(cfg.APIURL, cfg.Token, logger),
		Logger:    logger,
	}
	if cfg.CachePath != "" {
		c, cacheErr := sqlite.New(cfg.CachePath)
		if cacheErr != nil {
			logger.Warn().Err(cacheErr).Msg("cache disabled")
		} else {
			opts.Cache = c
		}
	}

	return waveline.New(opts), &cfg, nil
}

func newListenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print conversation events as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, _, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			app.On(string(waveline.EventCallStatusChanged), func(args ...any) {
				if call, ok := args[0].(*waveline.Call); ok {
					fmt.Printf("call status: %s\n", call.Status())
				}
			})
			app.On(string(waveline.EventMemberCall), func(args ...any) {
				fmt.Println("incoming call")
			})

			fmt.Printf("listening as %s, Ctrl+C to quit\n", app.Me().UserName)
			if err := app.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func newSendCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			app, _, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			conv, err := app.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			return conv.SendText(ctx, args[1])
		},
	}
}

func newCallCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "call <phone-number>",
		Short: "Place a call to a phone number and report its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, _, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			done := make(chan struct{})
			app.On(string(waveline.EventCallStatusChanged), func(args ...any) {
				call, ok := args[0].(*waveline.Call)
				if !ok {
					return
				}
				fmt.Printf("call status: %s\n", call.Status())
				if call.Status().Terminal() {
					close(done)
				}
			})

			go func() {
				if runErr := app.Run(ctx); runErr != nil && ctx.Err() == nil {
					fmt.Fprintln(os.Stderr, runErr)
				}
			}()

			call, err := app.CallServer(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("calling %s (knocking %s)\n", args[0], call.KnockingID())

			select {
			case <-done:
			case <-ctx.Done():
				_ = call.Hangup(context.Background())
			}
			return nil
		},
	}
}
