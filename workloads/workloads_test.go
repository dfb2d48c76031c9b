package workloads

import (
	"encoding/json"
	"sync"
	"testing"

	corev1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/core/v1"
	providers "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes"
	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/LibertyWritesCode/retail-app-deployment/config"
	"github.com/LibertyWritesCode/retail-app-deployment/eks"
)

type mocks int

func (mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	return args.Name + "_id", args.Inputs, nil
}

func (mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	return args.Args, nil
}

func testWorkloadsConfig(t *testing.T) *appconfig.Workloads {
	// Add-ons pull charts from the network, so unit tests leave their
	// versions empty to skip them.
	full := &appconfig.Config{
		Workloads: appconfig.Workloads{
			Namespace: "retail-store",
			Services: []appconfig.Service{
				{Name: "ui", Image: "public.ecr.aws/aws-containers/retail-store-sample-ui:0.8.2", Public: true,
					Env: map[string]string{"ENDPOINTS_CATALOG": "http://catalog"}},
				{Name: "catalog", Image: "public.ecr.aws/aws-containers/retail-store-sample-catalog:0.8.2"},
				{Name: "cart", Image: "public.ecr.aws/aws-containers/retail-store-sample-cart:0.8.2"},
				{Name: "orders", Image: "public.ecr.aws/aws-containers/retail-store-sample-orders:0.8.2"},
				{Name: "checkout", Image: "public.ecr.aws/aws-containers/retail-store-sample-checkout:0.8.2"},
			},
		},
	}
	assert.NoError(t, appconfig.Normalize(full))
	return &full.Workloads
}

func testCluster(ctx *pulumi.Context, t *testing.T) *eks.Resources {
	provider, err := providers.NewProvider(ctx, "test-k8s", &providers.ProviderArgs{})
	assert.NoError(t, err)
	return &eks.Resources{Provider: provider}
}

func TestSetup(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		cluster := testCluster(ctx, t)

		app, err := Setup(ctx, cluster, testWorkloadsConfig(t))
		assert.NoError(t, err)
		assert.Len(t, app.Deployments, 5)
		assert.Len(t, app.Services, 5)

		var wg sync.WaitGroup
		wg.Add(4)

		app.Deployments["ui"].Metadata.Namespace().ApplyT(func(ns *string) error {
			assert.Equal(t, "retail-store", *ns)
			wg.Done()
			return nil
		})

		app.Services["ui"].Spec.Type().ApplyT(func(svcType *string) error {
			assert.Equal(t, "LoadBalancer", *svcType)
			wg.Done()
			return nil
		})

		app.Services["catalog"].Spec.Type().ApplyT(func(svcType *string) error {
			assert.Equal(t, "ClusterIP", *svcType)
			wg.Done()
			return nil
		})

		app.Namespace.Metadata.Name().ApplyT(func(name *string) error {
			assert.Equal(t, "retail-store", *name)
			wg.Done()
			return nil
		})

		wg.Wait()
		return nil
	}, pulumi.WithMocks("project", "stack", mocks(0)))
	assert.NoError(t, err)
}

func TestEnvVarsSorted(t *testing.T) {
	env := envVars(map[string]string{
		"ZEBRA": "z",
		"ALPHA": "a",
		"MIKE":  "m",
	})
	assert.Len(t, env, 3)
	names := make([]pulumi.StringInput, len(env))
	for i, e := range env {
		names[i] = e.(corev1.EnvVarArgs).Name
	}
	assert.Equal(t, pulumi.StringInput(pulumi.String("ALPHA")), names[0])
	assert.Equal(t, pulumi.StringInput(pulumi.String("MIKE")), names[1])
	assert.Equal(t, pulumi.StringInput(pulumi.String("ZEBRA")), names[2])
}

func TestLoadBalancerControllerPolicy(t *testing.T) {
	var doc struct {
		Version   string
		Statement []struct {
			Effect string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(lbControllerPolicy), &doc))
	assert.Equal(t, "2012-10-17", doc.Version)
	assert.NotEmpty(t, doc.Statement)
	assert.Contains(t, lbControllerPolicy, "elasticloadbalancing:CreateLoadBalancer")
}
