// Command e3mapper maps an ext3 volume into a filemapper SQLite
// database. See cmd/e2mapper for the shared driver.
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
	cmd := mappercli.Root("e3mapper", "Map an ext2/3/4 file system into a filemapper database", openDriver)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
