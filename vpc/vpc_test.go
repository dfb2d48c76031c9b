package vpc

import (
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"

	appconfig "github.com/LibertyWritesCode/retail-app-deployment/config"
)

type mocks int

func (mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	return args.Name + "_id", args.Inputs, nil
}

func (mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	return args.Args, nil
}

func testNetworkConfig() *appconfig.Network {
	return &appconfig.Network{
		Name:              "test",
		ClusterName:       "test-cluster",
		CidrBlock:         "10.0.0.0/16",
		AvailabilityZones: []string{"eu-west-1a", "eu-west-1b"},
		PublicSubnets:     []string{"10.0.1.0/24", "10.0.2.0/24"},
		PrivateSubnets:    []string{"10.0.101.0/24", "10.0.102.0/24"},
		Tags:              map[string]string{"Project": "retail"},
	}
}

func TestSetup(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		cfg := testNetworkConfig()

		network, err := Setup(ctx, cfg)
		assert.NoError(t, err)
		assert.Len(t, network.PublicSubnets, 2)
		assert.Len(t, network.PrivateSubnets, 2)

		var wg sync.WaitGroup
		wg.Add(4)

		network.Vpc.CidrBlock.ApplyT(func(cidr string) error {
			assert.Equal(t, "10.0.0.0/16", cidr)
			wg.Done()
			return nil
		})

		network.PublicSubnets[0].CidrBlock.ApplyT(func(cidr *string) error {
			assert.Equal(t, "10.0.1.0/24", *cidr)
			wg.Done()
			return nil
		})

		network.PublicSubnets[0].Tags.ApplyT(func(tags map[string]string) error {
			assert.Equal(t, "1", tags["kubernetes.io/role/elb"])
			assert.Equal(t, "shared", tags["kubernetes.io/cluster/test-cluster"])
			wg.Done()
			return nil
		})

		network.PrivateSubnets[1].Tags.ApplyT(func(tags map[string]string) error {
			assert.Equal(t, "1", tags["kubernetes.io/role/internal-elb"])
			assert.NotContains(t, tags, "kubernetes.io/role/elb")
			wg.Done()
			return nil
		})

		wg.Wait()
		return nil
	}, pulumi.WithMocks("project", "stack", mocks(0)))
	assert.NoError(t, err)
}

func TestSetupValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*appconfig.Network)
	}{
		{"no availability zones", func(c *appconfig.Network) { c.AvailabilityZones = nil }},
		{"mismatched public subnets", func(c *appconfig.Network) { c.PublicSubnets = c.PublicSubnets[:1] }},
		{"mismatched private subnets", func(c *appconfig.Network) { c.PrivateSubnets = append(c.PrivateSubnets, "10.0.103.0/24") }},
		{"missing cluster name", func(c *appconfig.Network) { c.ClusterName = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := pulumi.RunErr(func(ctx *pulumi.Context) error {
				cfg := testNetworkConfig()
				tc.mutate(cfg)
				_, err := Setup(ctx, cfg)
				assert.Error(t, err)
				return nil
			}, pulumi.WithMocks("project", "stack", mocks(0)))
			assert.NoError(t, err)
		})
	}
}

// countingMocks records how many resources of each type get registered, so
// tests can tell the single-NAT and NAT-per-AZ layouts apart.
type countingMocks struct {
	mu        sync.Mutex
	resources map[string]int
}

func (m *countingMocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	m.resources[args.TypeToken]++
	m.mu.Unlock()
	return args.Name + "_id", args.Inputs, nil
}

func (m *countingMocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	return args.Args, nil
}

func TestSetupNatGateways(t *testing.T) {
	cases := []struct {
		name     string
		perAZ    bool
		wantNats int
	}{
		{"single gateway", false, 1},
		{"gateway per zone", true, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &countingMocks{resources: map[string]int{}}
			err := pulumi.RunErr(func(ctx *pulumi.Context) error {
				cfg := testNetworkConfig()
				cfg.NatGatewayPerAZ = tc.perAZ

				_, err := Setup(ctx, cfg)
				assert.NoError(t, err)
				return nil
			}, pulumi.WithMocks("project", "stack", m))
			assert.NoError(t, err)

			m.mu.Lock()
			defer m.mu.Unlock()
			assert.Equal(t, tc.wantNats, m.resources["aws:ec2/natGateway:NatGateway"])
			assert.Equal(t, tc.wantNats, m.resources["aws:ec2/eip:Eip"])
			// One private route table per gateway, plus the public table.
			assert.Equal(t, tc.wantNats+1, m.resources["aws:ec2/routeTable:RouteTable"])
		})
	}
}
