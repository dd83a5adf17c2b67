// Command genericmapper maps an already-mounted directory tree into a
// filemapper SQLite database using the kernel's FIEMAP ioctl, rather
// than parsing a specific on-disk format. Its first argument is a
// mount point or directory path, not a raw device file.
package main

import (
	"fmt"
	"os"

	"github.com/filemapper/filemapper/cmd/internal/mappercli"
	"github.com/filemapper/filemapper/pkg/drivers/generic"
	"github.com/filemapper/filemapper/pkg/mapper"
)

func openDriver(path string) (mapper.Driver, error) {
	return generic.Open(path)
}

func main() {
	cmd := mappercli.Root("genericmapper", "Map a mounted file system into a filemapper database via FIEMAP", openDriver)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
