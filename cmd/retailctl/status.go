package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/LibertyWritesCode/retail-app-deployment/internal/health"
)

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Wait for the cluster and application to be healthy",
	Long: `Loads the kubeconfig from the stack outputs and polls the cluster until
every node is Ready, every retail store deployment has its replicas
available, and the ui load balancer has a hostname. Prints the hostname on
success.

The wait is bounded by the timeout in the settings file (default 20m).`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(settings.Timeout))
		defer cancel()

		stack := selectStack(ctx)
		kc, err := stackKubeconfig(ctx, stack)
		if err != nil {
			die(err.Error())
		}

		restConfig, err := clientcmd.RESTConfigFromKubeConfig([]byte(kc))
		if err != nil {
			die("could not parse kubeconfig: %s", err)
		}
		client, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			die("could not build kubernetes client: %s", err)
		}

		hostname, err := health.Wait(ctx, client, health.Check{
			Namespace: settings.Namespace,
			UIService: settings.UIService,
		}, appLogger)
		if err != nil {
			die(err.Error())
		}
		appLogger.Info("application is serving", "url", "http://"+hostname)
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
