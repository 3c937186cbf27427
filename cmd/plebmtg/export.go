package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codyseavey/plebmtg/internal/services"
)

var (
	exportOut string
	exportRun string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a run's clusters, centroids and regression effects to an XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		f, err := services.NewExportService(db).Workbook(exportRun)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := f.SaveAs(exportOut); err != nil {
			return fmt.Errorf("save %s: %w", exportOut, err)
		}
		fmt.Printf("Wrote %s\n", exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "plebmtg-results.xlsx", "output file")
	exportCmd.Flags().StringVar(&exportRun, "run", "", "run id (default latest successful run)")
	rootCmd.AddCommand(exportCmd)
}
