// Package iam declares the identities the cluster runs as: the control plane
// service role, the node group role, an OIDC provider for IRSA and a
// read-only user for operators who only need to look.
package iam

import (
	"encoding/json"
	"fmt"
	"strings"

	awsiam "github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const clusterAssumeRolePolicy = `{
	"Version": "2008-10-17",
	"Statement": [{
		"Sid": "",
		"Effect": "Allow",
		"Principal": {
			"Service": "eks.amazonaws.com"
		},
		"Action": "sts:AssumeRole"
	}]
}`

const nodeAssumeRolePolicy = `{
	"Version": "2012-10-17",
	"Statement": [{
		"Sid": "",
		"Effect": "Allow",
		"Principal": {
			"Service": "ec2.amazonaws.com"
		},
		"Action": "sts:AssumeRole"
	}]
}`

// ClusterRole creates the service role the EKS control plane assumes.
func ClusterRole(ctx *pulumi.Context, name string, tags map[string]string) (*awsiam.Role, error) {
	role, err := awsiam.NewRole(ctx, name+"-cluster-role", &awsiam.RoleArgs{
		Description:      pulumi.String(fmt.Sprintf("Service role for the %s EKS control plane", name)),
		AssumeRolePolicy: pulumi.String(clusterAssumeRolePolicy),
		Tags:             toStringMap(tags),
	})
	if err != nil {
		return nil, err
	}
	clusterPolicies := []string{
		"arn:aws:iam::aws:policy/AmazonEKSClusterPolicy",
		"arn:aws:iam::aws:policy/AmazonEKSServicePolicy",
		"arn:aws:iam::aws:policy/AmazonEKSVPCResourceController",
	}
	for i, policy := range clusterPolicies {
		_, err := awsiam.NewRolePolicyAttachment(ctx, fmt.Sprintf("%s-cluster-rpa-%d", name, i), &awsiam.RolePolicyAttachmentArgs{
			PolicyArn: pulumi.String(policy),
			Role:      role.Name,
		})
		if err != nil {
			return nil, err
		}
	}
	return role, nil
}

// NodeGroupRole creates the role worker instances assume. ECR read access is
// what lets the kubelet pull the retail store images.
func NodeGroupRole(ctx *pulumi.Context, name string, tags map[string]string) (*awsiam.Role, error) {
	role, err := awsiam.NewRole(ctx, name+"-node-role", &awsiam.RoleArgs{
		Description:      pulumi.String(fmt.Sprintf("Role for the %s worker node group", name)),
		AssumeRolePolicy: pulumi.String(nodeAssumeRolePolicy),
		Tags:             toStringMap(tags),
	})
	if err != nil {
		return nil, err
	}
	nodePolicies := []string{
		"arn:aws:iam::aws:policy/AmazonEKSWorkerNodePolicy",
		"arn:aws:iam::aws:policy/AmazonEKS_CNI_Policy",
		"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly",
		"arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore",
	}
	for i, policy := range nodePolicies {
		_, err := awsiam.NewRolePolicyAttachment(ctx, fmt.Sprintf("%s-node-rpa-%d", name, i), &awsiam.RolePolicyAttachmentArgs{
			Role:      role.Name,
			PolicyArn: pulumi.String(policy),
		})
		if err != nil {
			return nil, err
		}
	}
	return role, nil
}

// ReadOnly bundles the observer user with its access key. The key secret is
// only ever exported through pulumi.ToSecret.
type ReadOnly struct {
	User      *awsiam.User
	AccessKey *awsiam.AccessKey
}

// ReadOnlyUser creates an IAM user that can describe and list cluster and
// instance state but change nothing.
func ReadOnlyUser(ctx *pulumi.Context, name string, tags map[string]string) (*ReadOnly, error) {
	user, err := awsiam.NewUser(ctx, name+"-readonly", &awsiam.UserArgs{
		Path: pulumi.String("/"),
		Tags: toStringMap(tags),
	})
	if err != nil {
		return nil, err
	}

	policy, err := ReadOnlyPolicy()
	if err != nil {
		return nil, err
	}
	_, err = awsiam.NewUserPolicy(ctx, name+"-readonly-policy", &awsiam.UserPolicyArgs{
		User:   user.Name,
		Policy: pulumi.String(policy),
	})
	if err != nil {
		return nil, err
	}

	key, err := awsiam.NewAccessKey(ctx, name+"-readonly-key", &awsiam.AccessKeyArgs{
		User: user.Name,
	})
	if err != nil {
		return nil, err
	}
	return &ReadOnly{User: user, AccessKey: key}, nil
}

// ReadOnlyPolicy renders the inline policy document for the observer user.
func ReadOnlyPolicy() (string, error) {
	doc, err := json.Marshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Sid":    "DescribeCluster",
				"Effect": "Allow",
				"Action": []string{
					"eks:DescribeCluster",
					"eks:DescribeNodegroup",
					"eks:ListClusters",
					"eks:ListNodegroups",
					"eks:ListUpdates",
					"eks:AccessKubernetesApi",
				},
				"Resource": "*",
			},
			{
				"Sid":    "DescribeInstances",
				"Effect": "Allow",
				"Action": []string{
					"ec2:DescribeInstances",
					"ec2:DescribeSubnets",
					"ec2:DescribeVpcs",
					"ec2:DescribeSecurityGroups",
				},
				"Resource": "*",
			},
		},
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// OpenIDConnectProvider registers the cluster's OIDC issuer with IAM so
// service accounts can assume roles (IRSA). The issuer's root CA thumbprint
// is fetched over TLS at deploy time.
func OpenIDConnectProvider(ctx *pulumi.Context, name string, issuerURL pulumi.StringOutput) (*awsiam.OpenIdConnectProvider, error) {
	thumbprint := issuerURL.ApplyT(func(url string) (string, error) {
		if url == "" {
			return "", nil
		}
		return rootCAThumbprint(url)
	}).(pulumi.StringOutput)

	return awsiam.NewOpenIdConnectProvider(ctx, name+"-oidc", &awsiam.OpenIdConnectProviderArgs{
		ClientIdLists:   pulumi.StringArray{pulumi.String("sts.amazonaws.com")},
		ThumbprintLists: pulumi.StringArray{thumbprint},
		Url:             issuerURL,
	})
}

// ServiceAccountRole creates a role assumable only by one Kubernetes service
// account through the cluster's OIDC provider, carrying the given inline
// policy. This is the IRSA shape used by the load balancer controller.
func ServiceAccountRole(ctx *pulumi.Context, name, accountID string, issuerURL pulumi.StringOutput, namespace, serviceAccount, policyName, policyJSON string) (*awsiam.Role, error) {
	assumePolicy := issuerURL.ApplyT(func(url string) (string, error) {
		return AssumeRoleWithWebIdentityPolicy(accountID, url, namespace, serviceAccount)
	}).(pulumi.StringOutput)

	return awsiam.NewRole(ctx, name, &awsiam.RoleArgs{
		AssumeRolePolicy: assumePolicy,
		InlinePolicies: awsiam.RoleInlinePolicyArray{
			&awsiam.RoleInlinePolicyArgs{
				Name:   pulumi.String(policyName),
				Policy: pulumi.String(policyJSON),
			},
		},
	})
}

// AssumeRoleWithWebIdentityPolicy renders the federated trust document that
// restricts role assumption to a single service account subject.
func AssumeRoleWithWebIdentityPolicy(accountID, issuerURL, namespace, serviceAccount string) (string, error) {
	issuer := strings.TrimPrefix(issuerURL, "https://")
	doc, err := json.Marshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Action": "sts:AssumeRoleWithWebIdentity",
				"Effect": "Allow",
				"Sid":    "",
				"Principal": map[string]interface{}{
					"Federated": fmt.Sprintf("arn:aws:iam::%s:oidc-provider/%s", accountID, issuer),
				},
				"Condition": map[string]interface{}{
					"StringEquals": map[string]interface{}{
						issuer + ":sub": fmt.Sprintf("system:serviceaccount:%s:%s", namespace, serviceAccount),
						issuer + ":aud": "sts.amazonaws.com",
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

func toStringMap(tags map[string]string) pulumi.StringMap {
	out := pulumi.StringMap{}
	for k, v := range tags {
		out[k] = pulumi.String(v)
	}
	return out
}
