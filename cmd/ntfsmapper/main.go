// Command ntfsmapper maps an NTFS volume into a filemapper SQLite
// database.
package main

import (
	"fmt"
	"os"

	"github.com/filemapper/filemapper/cmd/internal/mappercli"
	"github.com/filemapper/filemapper/pkg/drivers/ntfs"
	"github.com/filemapper/filemapper/pkg/mapper"
)

func openDriver(device string) (mapper.Driver, error) {
	return ntfs.Open(device)
}

func main() {
	cmd := mappercli.Root("ntfsmapper", "Map an NTFS file system into a filemapper database", openDriver)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
