// Command ambrepack reassembles an extracted-directory layout produced by
// ambunpack (and possibly modified) back into a firmware image.
//
// Synopsis:
//
//	ambrepack [-d sj8pro|sj10pro] SRCDIR OUT.bin OUT.ch
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/RigacciOrg/ambarella-h22-firmware-tools/pkg/ambfw"
	"github.com/RigacciOrg/ambarella-h22-firmware-tools/pkg/log"
)

type options struct {
	Dialect string `short:"d" long:"dialect" description:"ROMFS dialect (sj8pro or sj10pro)" default:"sj10pro"`

	Args struct {
		SrcDir     string `positional-arg-name:"srcdir" description:"extracted-directory layout produced by ambunpack"`
		OutBinPath string `positional-arg-name:"out.bin" description:"output firmware image (must not exist)"`
		OutChPath  string `positional-arg-name:"out.ch" description:"output checksum file (must not exist)"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	dialect, err := ambfw.DialectByName(opts.Dialect)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := ambfw.Repack(opts.Args.SrcDir, opts.Args.OutBinPath, opts.Args.OutChPath, dialect); err != nil {
		log.Fatalf("repack failed: %v", err)
	}

	fmt.Fprintf(os.Stderr, "ambrepack: wrote %s and %s\n", opts.Args.OutBinPath, opts.Args.OutChPath)
}
