package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "fontdex"}

	root.AddCommand(serveCMD(), workerCMD(), migrateCMD(), seedCMD(), queueCMD())
	_ = root.Execute()
}
