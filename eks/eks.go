// Package eks provisions the managed control plane and worker node group,
// and hands back a Kubernetes provider for deploying workloads onto it.
package eks

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	awseks "github.com/pulumi/pulumi-aws/sdk/v5/go/aws/eks"
	providers "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	appconfig "github.com/LibertyWritesCode/retail-app-deployment/config"
	"github.com/LibertyWritesCode/retail-app-deployment/iam"
	"github.com/LibertyWritesCode/retail-app-deployment/vpc"
)

// Resources is what the workload layer needs from the cluster: the cluster
// itself, a provider bound to its kubeconfig, and the OIDC issuer for IRSA.
type Resources struct {
	Cluster       *awseks.Cluster
	NodeGroup     *awseks.NodeGroup
	Provider      *providers.Provider
	OidcIssuerURL pulumi.StringOutput
	Kubeconfig    pulumi.StringOutput
}

// Setup creates the EKS control plane, its node group in the private subnets
// and the IAM identities both run as.
func Setup(ctx *pulumi.Context, net *vpc.Resources, cfg *appconfig.Cluster) (*Resources, error) {
	if len(net.PrivateSubnets) == 0 {
		return nil, fmt.Errorf("cluster %q: no private subnets to place the node group in", cfg.Name)
	}

	clusterRole, err := iam.ClusterRole(ctx, cfg.Name, cfg.Tags)
	if err != nil {
		return nil, err
	}
	nodeRole, err := iam.NodeGroupRole(ctx, cfg.Name, cfg.Tags)
	if err != nil {
		return nil, err
	}

	clusterSg, err := securityGroup(ctx, net, cfg)
	if err != nil {
		return nil, err
	}

	privateIDs := vpc.SubnetIDs(net.PrivateSubnets)
	publicIDs := vpc.SubnetIDs(net.PublicSubnets)

	cluster, err := awseks.NewCluster(ctx, cfg.Name, &awseks.ClusterArgs{
		Name:    pulumi.String(cfg.Name),
		RoleArn: pulumi.StringInput(clusterRole.Arn),
		Version: pulumi.String(cfg.Version),
		VpcConfig: &awseks.ClusterVpcConfigArgs{
			EndpointPublicAccess:  pulumi.Bool(true),
			EndpointPrivateAccess: pulumi.Bool(true),
			PublicAccessCidrs:     toStringArray(cfg.PublicAccessCidrs),
			SecurityGroupIds: pulumi.StringArray{
				clusterSg.ID().ToStringOutput(),
			},
			SubnetIds: append(append(pulumi.StringArray{}, privateIDs...), publicIDs...),
		},
		EnabledClusterLogTypes: toStringArray(cfg.LogTypes),
		Tags:                   toStringMap(cfg.Tags),
	})
	if err != nil {
		return nil, err
	}

	oidcURL := cluster.Identities.Index(pulumi.Int(0)).Oidcs().Index(pulumi.Int(0)).Issuer().Elem().ToStringOutput()
	_, err = iam.OpenIDConnectProvider(ctx, cfg.Name, oidcURL)
	if err != nil {
		return nil, err
	}

	// Node group lives in the private subnets only; the autoscaler discovery
	// tags let cluster-autoscaler adopt it later without further wiring.
	ngTags := toStringMap(cfg.Tags)
	ngTags["k8s.io/cluster-autoscaler/enabled"] = pulumi.String("true")
	ngTags["k8s.io/cluster-autoscaler/"+cfg.Name] = pulumi.String("owned")
	nodeGroup, err := awseks.NewNodeGroup(ctx, cfg.NodeGroup.Name, &awseks.NodeGroupArgs{
		ClusterName:   cluster.Name,
		NodeGroupName: pulumi.String(cfg.NodeGroup.Name),
		NodeRoleArn:   pulumi.StringInput(nodeRole.Arn),
		SubnetIds:     privateIDs,
		InstanceTypes: toStringArray(cfg.NodeGroup.InstanceTypes),
		CapacityType:  pulumi.String(cfg.NodeGroup.CapacityType),
		DiskSize:      pulumi.Int(cfg.NodeGroup.DiskSize),
		Labels:        toStringMap(cfg.NodeGroup.Labels),
		ScalingConfig: &awseks.NodeGroupScalingConfigArgs{
			MinSize:     pulumi.Int(cfg.NodeGroup.Scaling.Min),
			DesiredSize: pulumi.Int(cfg.NodeGroup.Scaling.Desired),
			MaxSize:     pulumi.Int(cfg.NodeGroup.Scaling.Max),
		},
		Tags: ngTags,
	})
	if err != nil {
		return nil, err
	}

	ca := cluster.CertificateAuthorities.ApplyT(func(cas []awseks.ClusterCertificateAuthority) string {
		if len(cas) == 0 || cas[0].Data == nil {
			return ""
		}
		return *cas[0].Data
	}).(pulumi.StringOutput)

	kubeconfig := generateKubeconfig(cluster.Endpoint, ca, cluster.Name)
	ctx.Export("kubeconfig", pulumi.ToSecret(kubeconfig))
	ctx.Export("clusterName", cluster.Name)

	// The provider depends on the node group so that nothing schedules onto
	// an empty cluster.
	k8sProvider, err := providers.NewProvider(ctx, cfg.Name+"-k8s", &providers.ProviderArgs{
		Kubeconfig: kubeconfig,
	}, pulumi.DependsOn([]pulumi.Resource{nodeGroup}))
	if err != nil {
		return nil, err
	}

	return &Resources{
		Cluster:       cluster,
		NodeGroup:     nodeGroup,
		Provider:      k8sProvider,
		OidcIssuerURL: oidcURL,
		Kubeconfig:    kubeconfig,
	}, nil
}

func securityGroup(ctx *pulumi.Context, net *vpc.Resources, cfg *appconfig.Cluster) (*ec2.SecurityGroup, error) {
	ingress := ec2.SecurityGroupIngressArray{}
	for _, rule := range cfg.Ingress {
		ingress = append(ingress, ec2.SecurityGroupIngressArgs{
			Protocol:   pulumi.String(rule.Protocol),
			FromPort:   pulumi.Int(rule.FromPort),
			ToPort:     pulumi.Int(rule.ToPort),
			CidrBlocks: toStringArray(rule.Cidrs),
		})
	}
	egress := ec2.SecurityGroupEgressArray{}
	for _, rule := range cfg.Egress {
		egress = append(egress, ec2.SecurityGroupEgressArgs{
			Protocol:   pulumi.String(rule.Protocol),
			FromPort:   pulumi.Int(rule.FromPort),
			ToPort:     pulumi.Int(rule.ToPort),
			CidrBlocks: toStringArray(rule.Cidrs),
		})
	}
	return ec2.NewSecurityGroup(ctx, cfg.Name+"-sg", &ec2.SecurityGroupArgs{
		Description: pulumi.String(fmt.Sprintf("Cluster security group for %s", cfg.Name)),
		VpcId:       net.Vpc.ID(),
		Ingress:     ingress,
		Egress:      egress,
		Tags:        toStringMap(cfg.Tags),
	})
}

func toStringArray(in []string) pulumi.StringArray {
	out := make(pulumi.StringArray, len(in))
	for i, v := range in {
		out[i] = pulumi.String(v)
	}
	return out
}

func toStringMap(in map[string]string) pulumi.StringMap {
	out := pulumi.StringMap{}
	for k, v := range in {
		out[k] = pulumi.String(v)
	}
	return out
}
