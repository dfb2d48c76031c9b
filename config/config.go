// Package config defines the typed stack configuration for the retail store
// deployment. Values live in the Pulumi stack file (e.g. Pulumi.dev.yaml) and
// are decoded with RequireObject, so a bad stack file fails before any
// resource is declared.
package config

import (
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// Network describes the VPC layout the cluster runs in. Subnet CIDR lists are
// positional: entry i of PublicSubnets and PrivateSubnets lands in
// AvailabilityZones[i].
type Network struct {
	Name              string
	ClusterName       string
	CidrBlock         string
	AvailabilityZones []string
	PublicSubnets     []string
	PrivateSubnets    []string
	NatGatewayPerAZ   bool
	Tags              map[string]string
}

// Scaling bounds a managed node group.
type Scaling struct {
	Min     int
	Desired int
	Max     int
}

// NodeGroup describes the managed worker pool attached to the cluster.
type NodeGroup struct {
	Name          string
	InstanceTypes []string
	CapacityType  string
	DiskSize      int
	Scaling       Scaling
	Labels        map[string]string
}

// FirewallRule is one ingress or egress entry on the cluster security group.
type FirewallRule struct {
	Protocol string
	FromPort int
	ToPort   int
	Cidrs    []string
}

// Cluster describes the EKS control plane and its node group.
type Cluster struct {
	Name              string
	Version           string
	PublicAccessCidrs []string
	LogTypes          []string
	Ingress           []FirewallRule
	Egress            []FirewallRule
	NodeGroup         NodeGroup
	Tags              map[string]string
}

// Service is one retail store microservice. The images are the off-the-shelf
// sample containers; nothing here builds them.
type Service struct {
	Name       string
	Image      string
	Replicas   int
	Port       int
	HealthPath string
	Public     bool
	Env        map[string]string
}

// Workloads describes the sample application and the cluster add-ons.
type Workloads struct {
	Namespace                     string
	Services                      []Service
	MetricsServerVersion          string
	LoadBalancerControllerVersion string
}

// Config is the full stack configuration.
type Config struct {
	Network   Network
	Cluster   Cluster
	Workloads Workloads
}

// Load reads the stack configuration and applies defaults. Validation beyond
// shape (subnet/AZ arity and the like) is left to the packages that consume
// each section, close to where the values are used.
func Load(ctx *pulumi.Context) (*Config, error) {
	conf := config.New(ctx, "")

	cfg := &Config{}
	conf.RequireObject("network", &cfg.Network)
	conf.RequireObject("cluster", &cfg.Cluster)
	conf.RequireObject("workloads", &cfg.Workloads)

	if err := Normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills in the defaults a stack file may omit and rejects entries
// that cannot be defaulted.
func Normalize(cfg *Config) error {
	if cfg.Network.ClusterName == "" {
		cfg.Network.ClusterName = cfg.Cluster.Name
	}
	if cfg.Workloads.Namespace == "" {
		cfg.Workloads.Namespace = "retail-store"
	}
	for i := range cfg.Workloads.Services {
		svc := &cfg.Workloads.Services[i]
		if svc.Name == "" {
			return fmt.Errorf("workloads: service %d has no name", i)
		}
		if svc.Replicas == 0 {
			svc.Replicas = 1
		}
		if svc.Port == 0 {
			svc.Port = 8080
		}
		if svc.HealthPath == "" {
			svc.HealthPath = "/health"
		}
	}
	return nil
}
