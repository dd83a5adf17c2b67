// Command dbshrink offline-converts a filemapper-compressed SQLite
// database between codecs, or back to a pristine uncompressed file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/filemapper/filemapper/pkg/mapper"
	"github.com/filemapper/filemapper/pkg/vfscompress"
)

const (
	flagToCodec  = "to-codec"
	flagPageSize = "page-size"
	flagReport   = "report"
)

// codecValue is a pflag.Value that rejects an unknown --to-codec name at
// parse time rather than at Shrink's first write.
type codecValue string

func (c *codecValue) String() string { return string(*c) }
func (c *codecValue) Type() string   { return "codec" }
func (c *codecValue) Set(s string) error {
	if s != "" {
		if _, err := vfscompress.Find(s); err != nil {
			return err
		}
	}
	*c = codecValue(s)
	return nil
}

func main() {
	cmd := &cobra.Command{
		Use:   "dbshrink <db-file>",
		Short: "Convert a compressed-VFS database between codecs",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	var codec codecValue
	cmd.Flags().VarP(&codec, flagToCodec, "", fmt.Sprintf("target codec (%s), empty for pristine", vfscompress.List()))
	cmd.Flags().Int64(flagPageSize, 4096, "database page size in bytes")
	cmd.Flags().Bool(flagReport, false, "print a summary after conversion")
	_ = viper.BindPFlag(flagToCodec, cmd.Flags().Lookup(flagToCodec))
	_ = viper.BindPFlag(flagPageSize, cmd.Flags().Lookup(flagPageSize))
	_ = viper.BindPFlag(flagReport, cmd.Flags().Lookup(flagReport))

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var _ pflag.Value = (*codecValue)(nil)

func run(cmd *cobra.Command, args []string) error {
	path := args[0]
	toCodec := viper.GetString(flagToCodec)
	pageSize := viper.GetInt64(flagPageSize)
	report := viper.GetBool(flagReport)

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return mapper.Wrap(mapper.ErrIO, "opening database", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return mapper.Wrap(mapper.ErrIO, "statting database", err)
	}

	if err := vfscompress.Shrink(&osFile{f}, info.Size(), pageSize, toCodec); err != nil {
		return err
	}

	if report {
		dest := toCodec
		if dest == "" {
			dest = "pristine"
		}
		fmt.Printf("%s converted to %s (%d byte pages)\n", path, dest, pageSize)
	}
	return nil
}

// osFile adapts *os.File to vfscompress.File.
type osFile struct{ f *os.File }

func (o *osFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o *osFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }
func (o *osFile) Truncate(size int64) error                { return o.f.Truncate(size) }
func (o *osFile) Close() error                              { return o.f.Close() }

