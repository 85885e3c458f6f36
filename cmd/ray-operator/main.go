package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every subcommand
type GlobalFlags struct {
	ConfigPath string
}

// RenderFlags holds flags for the render command
type RenderFlags struct {
	File string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	renderFlags := &RenderFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createRenderCommand(renderFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "ray-operator",
		Short: "Kubernetes operator for Ray clusters",
		Long: `ray-operator watches RayCluster resources and runs the Ray autoscaler
for each of them, reporting the cluster phase back on the resource status.

Examples:
  ray-operator run --config=operator.toml
  ray-operator render -f raycluster.yaml
  ray-operator version`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML or YAML config file (optional)")
	return root
}

func createRunCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the operator",
		Long: `Run the operator against the cluster from the current kubeconfig or
in-cluster service account. The process exits on SIGINT or SIGTERM after
stopping every autoscaler it launched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperator(cmd, flags)
		},
	}
}

func createRenderCommand(flags *RenderFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the autoscaler config derived from a RayCluster manifest",
		Long: `Convert a RayCluster manifest into the autoscaler config the operator
would write for it, without contacting Kubernetes.

Examples:
  ray-operator render -f raycluster.yaml
  cat raycluster.yaml | ray-operator render -f -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.File, "file", "f", "", "RayCluster manifest, or - for stdin (required)")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ray-operator %s\n", version)
			return err
		},
	}
}
