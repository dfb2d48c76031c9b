package workloads

import (
	_ "embed"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	helm "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/helm/v3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	appconfig "github.com/LibertyWritesCode/retail-app-deployment/config"
	"github.com/LibertyWritesCode/retail-app-deployment/eks"
	"github.com/LibertyWritesCode/retail-app-deployment/iam"
)

const lbControllerServiceAccount = "aws-load-balancer-controller"

// The controller's published IAM policy, compiled in so deploys don't depend
// on the engine's working directory.
//
//go:embed lb-controller-policy.json
var lbControllerPolicy string

// setupAddons installs the cluster-level services the application expects:
// metrics-server for resource metrics, and the AWS load balancer controller
// so the ui LoadBalancer Service gets a real ELB. Either is skipped when its
// chart version is left empty.
func setupAddons(ctx *pulumi.Context, cluster *eks.Resources, cfg *appconfig.Workloads) error {
	if cfg.MetricsServerVersion != "" {
		_, err := helm.NewChart(ctx, "metrics-server", helm.ChartArgs{
			Chart:     pulumi.String("metrics-server"),
			Version:   pulumi.String(cfg.MetricsServerVersion),
			Namespace: pulumi.String("kube-system"),
			FetchArgs: helm.FetchArgs{
				Repo: pulumi.String("https://kubernetes-sigs.github.io/metrics-server/"),
			},
		}, pulumi.Provider(cluster.Provider))
		if err != nil {
			return err
		}
	}

	if cfg.LoadBalancerControllerVersion == "" {
		return nil
	}

	current, err := aws.GetCallerIdentity(ctx, nil, nil)
	if err != nil {
		return err
	}

	lbRole, err := iam.ServiceAccountRole(ctx, "lb-controller-role", current.AccountId,
		cluster.OidcIssuerURL, "kube-system", lbControllerServiceAccount,
		"load-balancer-controller", lbControllerPolicy)
	if err != nil {
		return err
	}

	_, err = helm.NewChart(ctx, "aws-load-balancer-controller", helm.ChartArgs{
		Chart:     pulumi.String("aws-load-balancer-controller"),
		Version:   pulumi.String(cfg.LoadBalancerControllerVersion),
		Namespace: pulumi.String("kube-system"),
		FetchArgs: helm.FetchArgs{
			Repo: pulumi.String("https://aws.github.io/eks-charts"),
		},
		Values: pulumi.Map{
			"clusterName": cluster.Cluster.Name,
			"serviceAccount": pulumi.Map{
				"create": pulumi.Bool(true),
				"name":   pulumi.String(lbControllerServiceAccount),
				"annotations": pulumi.Map{
					"eks.amazonaws.com/role-arn": lbRole.Arn,
				},
			},
		},
	}, pulumi.Provider(cluster.Provider))
	return err
}
