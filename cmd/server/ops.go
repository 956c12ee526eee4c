package main

import (
	"encoding/json"
	"fmt"
	"os"

	"anchorebridge/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func backfillCmd() *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Rescan a block range of the source chain for deposits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, config.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.newWatcher()
			if err != nil {
				return err
			}
			src, err := a.dialEVM(ctx)
			if err != nil {
				return err
			}
			defer src.Close()

			if to == 0 {
				head, err := src.BlockNumber(ctx)
				if err != nil {
					return err
				}
				if head < a.cfg.EVM.MinConfirmations {
					return nil
				}
				to = head - a.cfg.EVM.MinConfirmations
			}
			if from > to {
				return fmt.Errorf("empty range %d-%d", from, to)
			}
			log.Info().Uint64("from", from).Uint64("to", to).Msg("backfilling deposits")
			return w.Backfill(ctx, src, from, to)
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first block")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block, defaults to the last final block")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <nonce>",
		Short: "Release a failed deposit again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.dispatcher.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Release pending deposits abandoned by a stopped relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.dispatcher.ResumePending(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("resumed", n).Msg("pending releases resumed")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <nonce>",
		Short: "Print the release record of a nonce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
