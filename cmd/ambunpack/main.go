// Command ambunpack extracts an Ambarella H22 firmware image into the
// extracted-directory layout ambrepack expects to reassemble.
//
// Synopsis:
//
//	ambunpack [-d sj8pro|sj10pro] FIRMWARE.bin FIRMWARE.ch DESTDIR
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
		FirmwarePath string `positional-arg-name:"firmware.bin" description:"input firmware image"`
		ChecksumPath string `positional-arg-name:"firmware.ch" description:"input checksum file (may not exist)"`
		DestDir      string `positional-arg-name:"destdir" description:"destination directory (must not exist)"`
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

	// Unpack returns a nil report only for the fatal cases in §6 (missing
	// input, pre-existing destination, an unparseable header); those exit
	// 1. A non-nil report with a non-nil error just means it collected
	// CRC/MD5 findings along the way, which §6 calls non-fatal, so that
	// case still exits 0 after printing the summary.
	report, err := ambfw.Unpack(opts.Args.FirmwarePath, opts.Args.ChecksumPath, opts.Args.DestDir, dialect)
	if report == nil {
		log.Fatalf("unpack failed: %v", err)
	}

	if err == nil {
		fmt.Fprintf(os.Stderr, "ambunpack: all checksums OK, %d section(s) extracted\n", len(report.Sections))
		return
	}
	fmt.Fprintf(os.Stderr, "ambunpack: completed with checksum failures, see warnings above\n")
}
