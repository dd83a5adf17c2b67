// Command fatmapper maps a FAT12/16/32 volume into a filemapper
// SQLite database.
package main

import (
	"fmt"
	"os"

	"github.com/filemapper/filemapper/cmd/internal/mappercli"
	"github.com/filemapper/filemapper/pkg/drivers/fat"
	"github.com/filemapper/filemapper/pkg/mapper"
)

func openDriver(device string) (mapper.Driver, error) {
	return fat.Open(device)
}

func main() {
	cmd := mappercli.Root("fatmapper", "Map a FAT12/16/32 file system into a filemapper database", openDriver)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
