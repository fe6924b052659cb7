package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/runveil/codeq/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}

type versionOutput struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Gofulmen  string `json:"gofulmen,omitempty"`
}

func runVersion(cmd *cobra.Command, _ []string) error {
	name := config.AppName
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		name = id.BinaryName
	}
	out := versionOutput{
		Name:      name,
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Gofulmen:  crucible.GetVersion().Gofulmen,
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	_, _ = fmt.Fprintf(os.Stdout, "%s %s\n", out.Name, out.Version)
	_, _ = fmt.Fprintf(os.Stdout, "  commit:     %s\n", out.Commit)
	_, _ = fmt.Fprintf(os.Stdout, "  built:      %s\n", out.BuildDate)
	_, _ = fmt.Fprintf(os.Stdout, "  go:         %s\n", out.GoVersion)
	_, _ = fmt.Fprintf(os.Stdout, "  platform:   %s\n", out.Platform)
	if out.Gofulmen != "" {
		_, _ = fmt.Fprintf(os.Stdout, "  gofulmen:   %s\n", out.Gofulmen)
	}
	return nil
}
