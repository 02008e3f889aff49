package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/field"
	"github.com/xkilldash9x/darkswarm/internal/store"
)

func newSnapshotCmd(a *app) *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspects stored field snapshots",
	}
	snapshotCmd.PersistentFlags().String("store", "", "Snapshot store: postgres or badger. (Overrides config/env)")
	bindConfigFlag(snapshotCmd, "store", "store.type")

	var (
		showLimit, listLimit int
		raw                  bool
	)
	showCmd := &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Prints the strongest signals of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(st schemas.SnapshotStore) error {
				if raw {
					blob, err := st.LoadSnapshot(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(a.stdout, "%s\n", blob)
					return err
				}
				snap, err := store.Load(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				return writeSnapshot(a.stdout, snap, showLimit)
			})
		},
	}
	showCmd.Flags().IntVarP(&showLimit, "limit", "n", 25, "Number of signals to print; 0 prints all.")
	showCmd.Flags().BoolVar(&raw, "raw", false, "Print the encoded snapshot as stored.")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(st schemas.SnapshotStore) error {
				lister, ok := st.(store.Lister)
				if !ok {
					return errors.New("the configured store cannot list snapshots")
				}
				infos, err := lister.ListSnapshots(cmd.Context(), listLimit)
				if err != nil {
					return err
				}
				return writeSnapshotList(a.stdout, infos)
			})
		},
	}
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of snapshots to list.")

	snapshotCmd.AddCommand(showCmd, listCmd)
	return snapshotCmd
}

func (a *app) withStore(ctx context.Context, fn func(schemas.SnapshotStore) error) error {
	st, err := openStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	if st == nil {
		return errors.New("no snapshot store configured (set store.type or --store)")
	}
	defer st.Close()
	return fn(st)
}

func writeSnapshot(w io.Writer, snap field.Snapshot, limit int) error {
	signals := slices.Clone(snap.Signals)
	slices.SortStableFunc(signals, func(a, b schemas.Signal) int { return cmp.Compare(b.Intensity, a.Intensity) })
	if limit > 0 && len(signals) > limit {
		signals = signals[:limit]
	}

	fmt.Fprintf(w, "Tick %d, %d signals\n\n", snap.Tick, len(snap.Signals))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tINTENSITY\tCONFIDENCE\tTTL\tREINFORCED\tEMITTER\tIDENTITY")
	for _, s := range signals {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.2f\t%d\t%d\t%s\t%s\n",
			s.ID[:min(8, len(s.ID))], s.Kind, s.Intensity, s.Confidence, s.TTL,
			s.ReinforcementCount, s.EmitterID, preview(s.Payload))
	}
	return tw.Flush()
}

func writeSnapshotList(w io.Writer, infos []store.SnapshotInfo) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots stored.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSAVED\tBYTES")
	for _, info := range infos {
		saved := "-"
		if !info.SavedAt.IsZero() {
			saved = info.SavedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", info.ID, saved, info.Size)
	}
	return tw.Flush()
}

func preview(p schemas.Payload) string {
	if p == nil {
		return ""
	}
	id := p.Identity()
	if r := []rune(id); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return id
}
