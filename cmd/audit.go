package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cjmach/pstconv/audit"
	"github.com/cjmach/pstconv/manifest"
	"github.com/cjmach/pstconv/stats"
	"github.com/cjmach/pstconv/store"
)

type auditFlags struct {
	dir          string
	format       string
	encoding     string
	reportPath   string
	manifestPath string
	topN         int
}

// NewAuditCommand returns the command that reads a converted tree back and
// lists the descriptor ids it contains.
func NewAuditCommand() *cobra.Command {
	var flags auditFlags

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List the descriptor ids found in a converted output tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.dir, "output", "o", "", "Converted output directory to audit")
	cmd.Flags().StringVarP(&flags.format, "format", "f", string(store.FormatEML), "Format of the output tree: eml, mbox")
	cmd.Flags().StringVarP(&flags.encoding, "encoding", "e", "UTF-8", "Character set the tree was written with")
	cmd.Flags().StringVar(&flags.reportPath, "report", "", "Write the descriptor ids to this CSV file")
	cmd.Flags().StringVar(&flags.manifestPath, "manifest", "", "Compare the ids found against a conversion manifest")
	cmd.Flags().IntVarP(&flags.topN, "top", "t", 10, "Number of folders to display, ordered by message count")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runAudit(w io.Writer, flags auditFlags) error {
	format, err := store.ParseFormat(flags.format)
	if err != nil {
		return fmt.Errorf("invalid --format: %w", err)
	}

	fmt.Fprintln(w, "Auditing output tree:", flags.dir)

	report, err := audit.Run(audit.Options{
		Dir:      flags.dir,
		Format:   format,
		Encoding: flags.encoding,
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", flags.dir, err)
	}

	fmt.Fprintf(w, "Found %d descriptor ids (%d messages without one)\n\n", len(report.IDs), report.Untraced)
	if len(report.FolderCounts) > 0 {
		fmt.Fprintf(w, "Top %d folders:\n", flags.topN)
		stats.PrettyPrintTop(w, report.FolderCounts, flags.topN)
		fmt.Fprintln(w)
	}
	for _, name := range report.SkippedFolders {
		fmt.Fprintf(w, "  ✗ %s: unreadable\n", name)
	}

	if flags.manifestPath != "" {
		records, err := manifest.Load(flags.manifestPath)
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		missing := manifest.Missing(manifest.IDs(records), report.IDs)
		if len(missing) == 0 {
			fmt.Fprintf(w, "  ✓ all %d manifest ids present\n", len(records))
		} else {
			fmt.Fprintf(w, "  ✗ %d manifest ids missing from output\n", len(missing))
			for _, id := range missing {
				fmt.Fprintf(w, "    %d\n", id)
			}
		}
	}

	if flags.reportPath != "" {
		if err := saveIDReport(report.IDs, flags.reportPath); err != nil {
			return fmt.Errorf("error saving CSV report: %w", err)
		}
		fmt.Fprintf(w, "\nReport saved to: %s\n", flags.reportPath)
	}

	return nil
}

func saveIDReport(ids []uint64, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"DescriptorID"}); err != nil {
		file.Close()
		return err
	}

	for _, id := range ids {
		if err := writer.Write([]string{strconv.FormatUint(id, 10)}); err != nil {
			file.Close()
			return err
		}
	}

	writer.Flush()
	file.Close()

	return writer.Error()
}
