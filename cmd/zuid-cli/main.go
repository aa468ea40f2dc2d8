package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zfair/zuid/idtype"
	"github.com/zfair/zuid/internal/config"
	"github.com/zfair/zuid/internal/provider/seqgen"
	"github.com/zfair/zuid/internal/store"
	"github.com/zfair/zuid/registry"
	"github.com/zfair/zuid/zerrors"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "zuid-cli",
		Short:        "Allocate stable numeric ids for names in a registry file",
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringP("file", "f", registry.DefaultFileName, "registry file")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newGenCmd())
	root.AddCommand(newLookupCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newSeqCmd())
	return root
}

func newAllocator(cmd *cobra.Command) (*registry.Allocator, string, error) {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := config.NewLogger(level)
	if err != nil {
		return nil, "", err
	}
	path, _ := cmd.Flags().GetString("file")
	return registry.NewAllocator(registry.WithLogger(logger)), path, nil
}

func newGenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen NAME...",
		Short: "Print the id of each name, allocating ids for new names",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGen,
	}
	cmd.Flags().Uint64("start", 0, "lowest id to hand out to new names")
	cmd.Flags().String("type", idtype.Default, "integer type the ids must fit")
	return cmd
}

func runGen(cmd *cobra.Command, args []string) error {
	start, _ := cmd.Flags().GetUint64("start")
	typeName, _ := cmd.Flags().GetString("type")
	typ, err := idtype.Parse(typeName)
	if err != nil {
		return err
	}
	a, path, err := newAllocator(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range args {
		id, err := a.GenID(path, name, start)
		if err != nil {
			return err
		}
		if _, err := typ.Narrow(id); err != nil {
			return errors.Wrap(err, name)
		}
		fmt.Fprint(out, store.FormatRecord(name, id))
	}
	return nil
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup NAME",
		Short: "Print the id of a name without allocating one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, path, err := newAllocator(cmd)
			if err != nil {
				return err
			}
			id, ok, err := a.Lookup(path, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.Wrapf(zerrors.ErrRecordNotFound, "%s in %s", args[0], path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every record of the registry ordered by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, path, err := newAllocator(cmd)
			if err != nil {
				return err
			}
			records, err := a.Records(path)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

func printRecords(w io.Writer, records []store.Record) {
	for _, r := range records {
		fmt.Fprint(w, store.FormatRecord(r.Name, r.ID))
	}
}

func newSeqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seq",
		Short: "Print ids from a fresh in-process counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetUint64("count")
			counter := seqgen.NewCounter()
			out := cmd.OutOrStdout()
			for i := uint64(0); i < count; i++ {
				fmt.Fprintln(out, counter.Next())
			}
			return nil
		},
	}
	cmd.Flags().Uint64P("count", "n", 1, "number of ids to print")
	return cmd
}
