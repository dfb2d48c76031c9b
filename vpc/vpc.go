// Package vpc provisions the network the cluster runs in: a VPC with public
// and private subnets spread across availability zones, NAT for private
// egress and the route tables binding it all together.
package vpc

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	appconfig "github.com/LibertyWritesCode/retail-app-deployment/config"
)

// Resources holds what the other layers need from the network: the VPC itself
// and the subnets, public and private kept apart.
type Resources struct {
	Vpc            *ec2.Vpc
	PublicSubnets  []*ec2.Subnet
	PrivateSubnets []*ec2.Subnet
}

// Setup creates the VPC, subnets, gateways and routing for the cluster.
func Setup(ctx *pulumi.Context, cfg *appconfig.Network) (*Resources, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	out := &Resources{}

	// Resource: VPC
	// Docs: https://docs.aws.amazon.com/vpc/latest/userguide/what-is-amazon-vpc.html
	vpc, err := ec2.NewVpc(ctx, cfg.Name+"-vpc", &ec2.VpcArgs{
		CidrBlock:          pulumi.String(cfg.CidrBlock),
		EnableDnsHostnames: pulumi.Bool(true),
		EnableDnsSupport:   pulumi.Bool(true),
		InstanceTenancy:    pulumi.String("default"),
		Tags:               tagsWithName(cfg.Name+"-vpc", cfg.Tags),
	})
	if err != nil {
		return nil, err
	}
	out.Vpc = vpc

	// IGW for the public subnets.
	igw, err := ec2.NewInternetGateway(ctx, cfg.Name+"-igw", &ec2.InternetGatewayArgs{
		VpcId: vpc.ID(),
		Tags:  tagsWithName(cfg.Name+"-igw", cfg.Tags),
	})
	if err != nil {
		return nil, err
	}

	// Resource: Subnets
	// Public subnets carry the kubernetes.io/role/elb tag so the load
	// balancer controller can discover them; private subnets get the
	// internal-elb equivalent. Both are tagged as shared with the cluster.
	for i, az := range cfg.AvailabilityZones {
		pubTags := tagsWithName(fmt.Sprintf("%s-public-%d", cfg.Name, i), cfg.Tags)
		pubTags["kubernetes.io/role/elb"] = pulumi.String("1")
		pubTags[fmt.Sprintf("kubernetes.io/cluster/%s", cfg.ClusterName)] = pulumi.String("shared")
		pub, err := ec2.NewSubnet(ctx, fmt.Sprintf("%s-public-%d", cfg.Name, i), &ec2.SubnetArgs{
			VpcId:               vpc.ID(),
			CidrBlock:           pulumi.String(cfg.PublicSubnets[i]),
			AvailabilityZone:    pulumi.String(az),
			MapPublicIpOnLaunch: pulumi.Bool(true),
			Tags:                pubTags,
		})
		if err != nil {
			return nil, err
		}
		out.PublicSubnets = append(out.PublicSubnets, pub)

		privTags := tagsWithName(fmt.Sprintf("%s-private-%d", cfg.Name, i), cfg.Tags)
		privTags["kubernetes.io/role/internal-elb"] = pulumi.String("1")
		privTags[fmt.Sprintf("kubernetes.io/cluster/%s", cfg.ClusterName)] = pulumi.String("shared")
		priv, err := ec2.NewSubnet(ctx, fmt.Sprintf("%s-private-%d", cfg.Name, i), &ec2.SubnetArgs{
			VpcId:            vpc.ID(),
			CidrBlock:        pulumi.String(cfg.PrivateSubnets[i]),
			AvailabilityZone: pulumi.String(az),
			Tags:             privTags,
		})
		if err != nil {
			return nil, err
		}
		out.PrivateSubnets = append(out.PrivateSubnets, priv)
	}

	// Resource: NAT Gateway
	// One per AZ when NatGatewayPerAZ is set, otherwise a single gateway in
	// the first public subnet. NAT must live in a public subnet for private
	// instances to reach the internet.
	natCount := 1
	if cfg.NatGatewayPerAZ {
		natCount = len(cfg.AvailabilityZones)
	}
	natGateways := make([]*ec2.NatGateway, 0, natCount)
	for i := 0; i < natCount; i++ {
		eip, err := ec2.NewEip(ctx, fmt.Sprintf("%s-nat-eip-%d", cfg.Name, i), &ec2.EipArgs{
			Vpc:  pulumi.Bool(true),
			Tags: tagsWithName(fmt.Sprintf("%s-nat-eip-%d", cfg.Name, i), cfg.Tags),
		})
		if err != nil {
			return nil, err
		}
		nat, err := ec2.NewNatGateway(ctx, fmt.Sprintf("%s-nat-%d", cfg.Name, i), &ec2.NatGatewayArgs{
			AllocationId: eip.ID(),
			SubnetId:     out.PublicSubnets[i].ID(),
			Tags:         tagsWithName(fmt.Sprintf("%s-nat-%d", cfg.Name, i), cfg.Tags),
		})
		if err != nil {
			return nil, err
		}
		natGateways = append(natGateways, nat)
	}

	// Public route table: 0.0.0.0/0 via the IGW.
	publicRt, err := ec2.NewRouteTable(ctx, cfg.Name+"-rt-public", &ec2.RouteTableArgs{
		VpcId: vpc.ID(),
		Routes: ec2.RouteTableRouteArray{
			&ec2.RouteTableRouteArgs{
				CidrBlock: pulumi.String("0.0.0.0/0"),
				GatewayId: igw.ID(),
			},
		},
		Tags: tagsWithName(cfg.Name+"-rt-public", cfg.Tags),
	})
	if err != nil {
		return nil, err
	}
	for i, sub := range out.PublicSubnets {
		_, err = ec2.NewRouteTableAssociation(ctx, fmt.Sprintf("%s-rta-public-%d", cfg.Name, i), &ec2.RouteTableAssociationArgs{
			SubnetId:     sub.ID(),
			RouteTableId: publicRt.ID(),
		})
		if err != nil {
			return nil, err
		}
	}

	// Private route tables: 0.0.0.0/0 via NAT, one table per gateway. With a
	// single NAT every private subnet shares table 0.
	privateRts := make([]*ec2.RouteTable, 0, len(natGateways))
	for i, nat := range natGateways {
		rt, err := ec2.NewRouteTable(ctx, fmt.Sprintf("%s-rt-private-%d", cfg.Name, i), &ec2.RouteTableArgs{
			VpcId: vpc.ID(),
			Routes: ec2.RouteTableRouteArray{
				&ec2.RouteTableRouteArgs{
					CidrBlock:    pulumi.String("0.0.0.0/0"),
					NatGatewayId: nat.ID(),
				},
			},
			Tags: tagsWithName(fmt.Sprintf("%s-rt-private-%d", cfg.Name, i), cfg.Tags),
		})
		if err != nil {
			return nil, err
		}
		privateRts = append(privateRts, rt)
	}
	for i, sub := range out.PrivateSubnets {
		rt := privateRts[0]
		if i < len(privateRts) {
			rt = privateRts[i]
		}
		_, err = ec2.NewRouteTableAssociation(ctx, fmt.Sprintf("%s-rta-private-%d", cfg.Name, i), &ec2.RouteTableAssociationArgs{
			SubnetId:     sub.ID(),
			RouteTableId: rt.ID(),
		})
		if err != nil {
			return nil, err
		}
	}

	// S3 gateway endpoint on every route table: no cost, and keeps regional
	// S3 traffic (image layers, logs) off the NAT.
	region, err := aws.GetRegion(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	allRts := pulumi.StringArray{publicRt.ID().ToStringOutput()}
	for _, rt := range privateRts {
		allRts = append(allRts, rt.ID().ToStringOutput())
	}
	_, err = ec2.NewVpcEndpoint(ctx, cfg.Name+"-s3-endpoint", &ec2.VpcEndpointArgs{
		VpcId:         vpc.ID(),
		ServiceName:   pulumi.String(fmt.Sprintf("com.amazonaws.%s.s3", region.Name)),
		RouteTableIds: allRts,
		Tags:          tagsWithName(cfg.Name+"-s3-endpoint", cfg.Tags),
	})
	if err != nil {
		return nil, err
	}

	ctx.Export("vpcId", vpc.ID())
	for i, sub := range out.PublicSubnets {
		ctx.Export(fmt.Sprintf("publicSubnet%d", i), sub.ID())
	}
	for i, sub := range out.PrivateSubnets {
		ctx.Export(fmt.Sprintf("privateSubnet%d", i), sub.ID())
	}

	return out, nil
}

func validate(cfg *appconfig.Network) error {
	azs := len(cfg.AvailabilityZones)
	if azs == 0 {
		return fmt.Errorf("network %q: at least one availability zone is required", cfg.Name)
	}
	if len(cfg.PublicSubnets) != azs || len(cfg.PrivateSubnets) != azs {
		return fmt.Errorf("network %q: %d availability zones but %d public and %d private subnet blocks",
			cfg.Name, azs, len(cfg.PublicSubnets), len(cfg.PrivateSubnets))
	}
	if cfg.ClusterName == "" {
		return fmt.Errorf("network %q: cluster name is required for subnet discovery tags", cfg.Name)
	}
	return nil
}

// SubnetIDs flattens subnet resources into the input shape the EKS and node
// group args want.
func SubnetIDs(subnets []*ec2.Subnet) pulumi.StringArray {
	ids := make(pulumi.StringArray, len(subnets))
	for i, s := range subnets {
		ids[i] = s.ID().ToStringOutput()
	}
	return ids
}

func tagsWithName(name string, common map[string]string) pulumi.StringMap {
	tags := pulumi.StringMap{}
	for k, v := range common {
		tags[k] = pulumi.String(v)
	}
	tags["Name"] = pulumi.String(name)
	return tags
}
