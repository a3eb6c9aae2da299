package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/gridsession"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of gridsession",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gridsession version %s\n", strings.TrimSpace(gridsession.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
