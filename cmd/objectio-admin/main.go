// Command objectio-admin is the cluster operator CLI: it talks to the
// metadata service (and, for volumes, a block gateway) over the same gRPC
// transport the daemons use, letting an operator apply declarative
// bucket/policy/user/access-key/volume manifests instead of scripting
// individual RPCs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "objectio-admin",
	Short: "objectio cluster operator CLI",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
