package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Actual version can be specified in build command.
var version = "unknown"

type versionInfo struct {
	App      string `json:"app"`
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
	Go       string `json:"go"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		info := buildVersion()
		if viper.GetBool("json") {
			out, _ := json.Marshal(info)
			fmt.Println(string(out))
			return
		}
		fmt.Printf("%s version: %s (%s)\n", info.App, info.Version, info.Go)
	},
}

func buildVersion() versionInfo {
	info := versionInfo{App: app, Version: version, Go: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Revision = s.Value
			}
		}
	}
	return info
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
