package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (table, json or yaml)", format)
}

// encode writes v as JSON or YAML. Table output is handled by the callers.
func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return validOutput(format)
}

func writeSwingTable(w io.Writer, swings []models.SwingPoint) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDIRECTION\tPRICE\tCONFIRMED\tLENGTH\tBARS")
	for _, sw := range swings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			sw.Time.Format(time.RFC3339),
			sw.Direction,
			strconv.FormatFloat(sw.Price, 'f', -1, 64),
			sw.Confirmed().Format(time.RFC3339),
			optional(sw.Length),
			optional(sw.LengthInBars),
		)
	}
	return tw.Flush()
}

func writeRunTable(w io.Writer, runs []storage.ReplayRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tREVERSE BARS\tBARS\tSWINGS\tSOURCE\tFINISHED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.ReverseBars, r.Bars, r.Swings, r.Source, r.FinishedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
