package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/spf13/cobra"
)

var destroyConfirmed bool

// previewCmd represents the preview command.
var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the pending infrastructure changes",
	Long: `Refreshes the stack against AWS and shows the diff that "retailctl up"
would apply, without changing anything.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		stack := selectStack(ctx)

		if _, err := stack.Refresh(ctx); err != nil {
			die("refresh failed: %s", err)
		}
		res, err := stack.Preview(ctx, optpreview.ProgressStreams(os.Stdout))
		if err != nil {
			die("preview failed: %s", err)
		}
		appLogger.Info("preview complete", "changes", fmt.Sprintf("%v", res.ChangeSummary))
	},
}

// upCmd represents the up command.
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Deploy the cluster and application",
	Long: `Creates or updates every resource in the stack: the VPC, the EKS
cluster and node group, the IAM identities and the retail store workloads.

A full deployment from nothing takes 15-20 minutes; most of that is AWS
provisioning the control plane and node group.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		stack := selectStack(ctx)

		res, err := stack.Up(ctx, optup.ProgressStreams(os.Stdout))
		if err != nil {
			die("deployment failed: %s", err)
		}
		appLogger.Info("deployment complete", "summary", res.Summary.Kind)
	},
}

// destroyCmd represents the destroy command.
var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Tear down every resource in the stack",
	Long: `Destroys the application, the cluster and the network. Requires --yes;
there is no undo.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !destroyConfirmed {
			die("refusing to destroy without --yes")
		}
		ctx := context.Background()
		stack := selectStack(ctx)

		if _, err := stack.Destroy(ctx, optdestroy.ProgressStreams(os.Stdout)); err != nil {
			die("destroy failed: %s", err)
		}
		appLogger.Info("stack destroyed", "stack", settings.Stack)
	},
}

// kubeconfigCmd represents the kubeconfig command.
var kubeconfigCmd = &cobra.Command{
	Use:   "kubeconfig",
	Short: "Print the cluster kubeconfig",
	Long: `Prints the kubeconfig exported by the stack to stdout, suitable for
redirecting to a file and passing to kubectl via KUBECONFIG.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		stack := selectStack(ctx)

		kc, err := stackKubeconfig(ctx, stack)
		if err != nil {
			die(err.Error())
		}
		fmt.Println(kc)
	},
}

// selectStack creates or selects the configured stack rooted at the working
// directory holding the Pulumi program.
func selectStack(ctx context.Context) auto.Stack {
	stack, err := auto.UpsertStackLocalSource(ctx, settings.Stack, settings.WorkDir)
	if err != nil {
		die("could not select stack %s: %s", settings.Stack, err)
	}
	if settings.Region != "" {
		if err := stack.SetConfig(ctx, "aws:region", auto.ConfigValue{Value: settings.Region}); err != nil {
			die("could not set region: %s", err)
		}
	}
	return stack
}

// stackKubeconfig pulls the kubeconfig output from the stack.
func stackKubeconfig(ctx context.Context, stack auto.Stack) (string, error) {
	outputs, err := stack.Outputs(ctx)
	if err != nil {
		return "", fmt.Errorf("could not read stack outputs: %w", err)
	}
	out, ok := outputs["kubeconfig"]
	if !ok {
		return "", fmt.Errorf("stack %s has no kubeconfig output; has it been deployed?", settings.Stack)
	}
	kc, ok := out.Value.(string)
	if !ok || kc == "" {
		return "", fmt.Errorf("kubeconfig output is not a string")
	}
	return kc, nil
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyConfirmed, "yes", false, "confirm the teardown")

	RootCmd.AddCommand(previewCmd)
	RootCmd.AddCommand(upCmd)
	RootCmd.AddCommand(destroyCmd)
	RootCmd.AddCommand(kubeconfigCmd)
}
