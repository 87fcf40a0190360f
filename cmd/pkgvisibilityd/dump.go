package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/dumpfmt"
)

var (
	dumpFilterApp int
	dumpPDFPath   string
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print dumpQueries' diagnostic content: master switch, forceQueryable set, and relation maps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDump()
	},
}

func init() {
	dumpCmd.Flags().IntVar(&dumpFilterApp, "app-id", 0, "restrict output to this caller AppId (0 = all)")
	dumpCmd.Flags().StringVar(&dumpPDFPath, "pdf", "", "also write an operator report PDF to this path")
}

func runDump() error {
	c, err := wireCore(dataDir, sqlitePath, []appid.UserId{0})
	if err != nil {
		return err
	}
	defer c.store.Close()

	var filter *appid.AppId
	if dumpFilterApp != 0 {
		id := appid.AppId(dumpFilterApp)
		filter = &id
	}

	content := dumpfmt.Build(c.relation, c.features, filter)

	if err := (dumpfmt.TextRenderer{}).Render(os.Stdout, content); err != nil {
		return err
	}

	if dumpPDFPath != "" {
		pdf := (dumpfmt.PDFRenderer{}).Render(content)
		if err := pdf.OutputFileAndClose(dumpPDFPath); err != nil {
			return fmt.Errorf("writing pdf report: %w", err)
		}
	}
	return nil
}
