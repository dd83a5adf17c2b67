// Package mappercli holds the scaffolding shared by every per-FS
// mapper binary (e2mapper, e3mapper, e4mapper, xfsmapper, fatmapper,
// ntfsmapper): opening the store and driver, running the three
// mapping phases, and folding the sticky fault trackers into an exit
// code, following cmd/vorteil's rootCmd/commandInit() wiring style.
package mappercli

import (
	"context"
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/filemapper/filemapper/pkg/mapper"
	"github.com/filemapper/filemapper/pkg/store"
)

const (
	overviewFineCellCount   = 2048
	overviewCoarseCellCount = 65536
)

// Root builds the two-positional-argument root command common to every
// mapper binary: "<command> <db-file> <fs-device>".
func Root(use, short string, open mapper.Opener) *cobra.Command {
	var report bool

	cmd := &cobra.Command{
		Use:   use + " <db-file> <fs-device>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := homedir.Expand(args[0])
			if err != nil {
				return fmt.Errorf("expanding %s: %w", args[0], err)
			}
			device, err := homedir.Expand(args[1])
			if err != nil {
				return fmt.Errorf("expanding %s: %w", args[1], err)
			}
			return Run(dbPath, device, open, report)
		},
	}
	cmd.Flags().BoolVar(&report, "report", false, "print the volume's path, total bytes and free bytes after mapping")
	return cmd
}

// Run drives the full mapper pipeline for one volume: prepare the
// store, walk the tree and the metadata subtree, index, and cache the
// overview histograms. It implements the sticky two-channel error
// propagation from §7: the first error on either channel becomes the
// process's exit code.
func Run(dbPath, device string, open mapper.Opener, report bool) error {
	var fault mapper.FaultTracker

	drv, err := open(device)
	if err != nil {
		fault.FailFS(err)
		return fail(&fault, "opening file system")
	}
	defer drv.Close()

	st, err := store.Open(dbPath)
	if err != nil {
		fault.FailStore(err)
		return fail(&fault, "opening database")
	}
	defer st.Close()

	if err := st.Prepare(); err != nil {
		fault.FailStore(err)
		return fail(&fault, "preparing database")
	}

	fsr, err := drv.VolumeStats()
	if err != nil {
		fault.FailFS(err)
		return fail(&fault, "analyzing filesystem")
	}

	if err := st.Begin(); err != nil {
		fault.FailStore(err)
		return fail(&fault, "preparing database")
	}
	if err := st.CollectFSStats(fsr); err != nil {
		fault.FailStore(err)
		return fail(&fault, "analyzing filesystem")
	}

	ctx := context.Background()
	if err := drv.WalkTree(ctx, st); err != nil {
		fault.FailFS(err)
		return fail(&fault, "analyzing filesystem")
	}
	if err := drv.WalkMetadata(ctx, st); err != nil {
		fault.FailFS(err)
		return fail(&fault, "analyzing filesystem")
	}
	if err := st.Commit(); err != nil {
		fault.FailStore(err)
		return fail(&fault, "analyzing filesystem")
	}

	if err := st.FinalizeFSStats(fsr.Path, fsr.TotalBytes-1); err != nil {
		fault.FailStore(err)
		return fail(&fault, "finalizing filesystem record")
	}
	if err := st.IndexDB(); err != nil {
		fault.FailStore(err)
		return fail(&fault, "caching CLI overview")
	}
	if err := st.CacheOverview(overviewFineCellCount); err != nil {
		fault.FailStore(err)
		return fail(&fault, "caching CLI overview")
	}
	if err := st.CacheOverview(overviewCoarseCellCount); err != nil {
		fault.FailStore(err)
		return fail(&fault, "caching CLI overview")
	}
	if err := st.CalcInodeStats(); err != nil {
		fault.FailStore(err)
		return fail(&fault, "caching CLI overview")
	}

	if report {
		printReport(fsr)
	}

	return nil
}

func fail(fault *mapper.FaultTracker, activity string) error {
	err := fault.Result()
	if err == nil {
		return nil
	}
	return fmt.Errorf("%v while %s", err, activity)
}

// printReport renders the volume's path, total bytes and free bytes in
// the teacher's PlainTable style (cmd/vorteil/main.go). It reports no
// per-file fragmentation or travel scores.
func printReport(fsr mapper.FileSystemRecord) {
	rows := [][]string{
		{"path", "total bytes", "free bytes"},
		{fsr.Path, fmt.Sprintf("%d", fsr.TotalBytes), fmt.Sprintf("%d", fsr.FreeBytes)},
	}
	plainTable(rows)
}

func plainTable(vals [][]string) {
	if len(vals) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for i := 1; i < len(vals); i++ {
		table.Append(vals[i])
	}
	table.Render()
}
