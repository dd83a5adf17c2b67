// Command e2mapper maps an ext2 volume into a filemapper SQLite
// database. It shares its driver with e3mapper and e4mapper: all three
// binaries dispatch on the superblock's own feature flags, matching
// the original project's single multi-format binary.
package main

import (
	"fmt"
	"os"

	"github.com/filemapper/filemapper/cmd/internal/mappercli"
	"github.com/filemapper/filemapper/pkg/drivers/ext"
	"github.com/filemapper/filemapper/pkg/mapper"
)

func openDriver(device string) (mapper.Driver, error) {
	return ext.Open(device)
}

func main() {
	cmd := mappercli.Root("e2mapper", "Map an ext2/3/4 file system into a filemapper database", openDriver)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
