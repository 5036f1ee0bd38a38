package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version 由构建时 -ldflags 注入，留空时回退到模块的 VCS 信息。
var version = ""

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印 covaultd 版本",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "covaultd", resolveVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func resolveVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}
