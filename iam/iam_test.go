package iam

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mocks int

func (mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	return args.Name + "_id", args.Inputs, nil
}

func (mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	return args.Args, nil
}

func TestClusterRoleTrustsEKS(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		role, err := ClusterRole(ctx, "test", nil)
		assert.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		role.AssumeRolePolicy.ApplyT(func(policy string) error {
			assert.Contains(t, policy, "eks.amazonaws.com")
			wg.Done()
			return nil
		})
		wg.Wait()
		return nil
	}, pulumi.WithMocks("project", "stack", mocks(0)))
	assert.NoError(t, err)
}

func TestNodeGroupRoleTrustsEC2(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		role, err := NodeGroupRole(ctx, "test", nil)
		assert.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		role.AssumeRolePolicy.ApplyT(func(policy string) error {
			assert.Contains(t, policy, "ec2.amazonaws.com")
			wg.Done()
			return nil
		})
		wg.Wait()
		return nil
	}, pulumi.WithMocks("project", "stack", mocks(0)))
	assert.NoError(t, err)
}

func TestReadOnlyUser(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		ro, err := ReadOnlyUser(ctx, "test", map[string]string{"Project": "retail"})
		assert.NoError(t, err)
		assert.NotNil(t, ro.User)
		assert.NotNil(t, ro.AccessKey)
		return nil
	}, pulumi.WithMocks("project", "stack", mocks(0)))
	assert.NoError(t, err)
}

func TestReadOnlyPolicy(t *testing.T) {
	policy, err := ReadOnlyPolicy()
	require.NoError(t, err)

	var doc struct {
		Version   string
		Statement []struct {
			Effect string
			Action []string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(policy), &doc))
	assert.Equal(t, "2012-10-17", doc.Version)

	var actions []string
	for _, stmt := range doc.Statement {
		assert.Equal(t, "Allow", stmt.Effect)
		actions = append(actions, stmt.Action...)
	}
	assert.Contains(t, actions, "eks:DescribeCluster")
	assert.Contains(t, actions, "ec2:DescribeInstances")
	for _, action := range actions {
		assert.NotContains(t, action, "Create")
		assert.NotContains(t, action, "Delete")
		assert.NotContains(t, action, "Update")
	}
}

func TestAssumeRoleWithWebIdentityPolicy(t *testing.T) {
	policy, err := AssumeRoleWithWebIdentityPolicy(
		"123456789012",
		"https://oidc.eks.eu-west-1.amazonaws.com/id/EXAMPLE",
		"kube-system",
		"aws-load-balancer-controller",
	)
	require.NoError(t, err)

	assert.Contains(t, policy, "arn:aws:iam::123456789012:oidc-provider/oidc.eks.eu-west-1.amazonaws.com/id/EXAMPLE")
	assert.Contains(t, policy, "system:serviceaccount:kube-system:aws-load-balancer-controller")
	assert.Contains(t, policy, "sts:AssumeRoleWithWebIdentity")
	// The https:// prefix must be stripped from the issuer everywhere.
	assert.NotContains(t, policy, "oidc-provider/https://")
}
