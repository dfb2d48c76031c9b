package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	appconfig "github.com/LibertyWritesCode/retail-app-deployment/config"
	"github.com/LibertyWritesCode/retail-app-deployment/eks"
	"github.com/LibertyWritesCode/retail-app-deployment/iam"
	"github.com/LibertyWritesCode/retail-app-deployment/vpc"
	"github.com/LibertyWritesCode/retail-app-deployment/workloads"
)

func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		cfg, err := appconfig.Load(ctx)
		if err != nil {
			return err
		}

		net, err := vpc.Setup(ctx, &cfg.Network)
		if err != nil {
			return err
		}

		cluster, err := eks.Setup(ctx, net, &cfg.Cluster)
		if err != nil {
			return err
		}

		readonly, err := iam.ReadOnlyUser(ctx, cfg.Cluster.Name, cfg.Cluster.Tags)
		if err != nil {
			return err
		}
		ctx.Export("readonlyUser", readonly.User.Name)
		ctx.Export("readonlyAccessKeyId", readonly.AccessKey.ID())
		ctx.Export("readonlySecretAccessKey", pulumi.ToSecret(readonly.AccessKey.Secret))

		_, err = workloads.Setup(ctx, cluster, &cfg.Workloads)
		return err
	})
}
