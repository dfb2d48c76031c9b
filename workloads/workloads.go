// Package workloads deploys the retail store sample application onto the
// cluster: five off-the-shelf microservices (ui, catalog, cart, orders,
// checkout) plus the cluster add-ons they rely on. No application code is
// built here; the images are the published sample containers.
package workloads

import (
	"fmt"
	"sort"

	appsv1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/apps/v1"
	corev1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/core/v1"
	metav1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/meta/v1"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	appconfig "github.com/LibertyWritesCode/retail-app-deployment/config"
	"github.com/LibertyWritesCode/retail-app-deployment/eks"
)

// Resources holds the deployed application objects, keyed by service name.
type Resources struct {
	Namespace   *corev1.Namespace
	Deployments map[string]*appsv1.Deployment
	Services    map[string]*corev1.Service
}

// Setup deploys the sample application namespace, one Deployment and Service
// per microservice, and the cluster add-ons.
func Setup(ctx *pulumi.Context, cluster *eks.Resources, cfg *appconfig.Workloads) (*Resources, error) {
	ns, err := corev1.NewNamespace(ctx, cfg.Namespace, &corev1.NamespaceArgs{
		Metadata: &metav1.ObjectMetaArgs{
			Name: pulumi.String(cfg.Namespace),
		},
	}, pulumi.Provider(cluster.Provider))
	if err != nil {
		return nil, err
	}

	out := &Resources{
		Namespace:   ns,
		Deployments: map[string]*appsv1.Deployment{},
		Services:    map[string]*corev1.Service{},
	}
	for _, svc := range cfg.Services {
		if err := deployService(ctx, cluster, out, cfg.Namespace, svc); err != nil {
			return nil, fmt.Errorf("deploy %s: %w", svc.Name, err)
		}
	}

	if err := setupAddons(ctx, cluster, cfg); err != nil {
		return nil, err
	}
	return out, nil
}

func deployService(ctx *pulumi.Context, cluster *eks.Resources, out *Resources, namespace string, svc appconfig.Service) error {
	labels := pulumi.StringMap{
		"app.kubernetes.io/name":    pulumi.String(svc.Name),
		"app.kubernetes.io/part-of": pulumi.String("retail-store"),
	}
	selector := pulumi.StringMap{
		"app.kubernetes.io/name": pulumi.String(svc.Name),
	}

	deployment, err := appsv1.NewDeployment(ctx, svc.Name, &appsv1.DeploymentArgs{
		Metadata: &metav1.ObjectMetaArgs{
			Name:      pulumi.String(svc.Name),
			Namespace: pulumi.String(namespace),
			Labels:    labels,
		},
		Spec: &appsv1.DeploymentSpecArgs{
			Replicas: pulumi.Int(svc.Replicas),
			Selector: &metav1.LabelSelectorArgs{
				MatchLabels: selector,
			},
			Template: &corev1.PodTemplateSpecArgs{
				Metadata: &metav1.ObjectMetaArgs{
					Labels: labels,
				},
				Spec: &corev1.PodSpecArgs{
					Containers: corev1.ContainerArray{
						corev1.ContainerArgs{
							Name:  pulumi.String(svc.Name),
							Image: pulumi.String(svc.Image),
							Ports: corev1.ContainerPortArray{
								corev1.ContainerPortArgs{
									ContainerPort: pulumi.Int(svc.Port),
									Name:          pulumi.String("http"),
								},
							},
							Env: envVars(svc.Env),
							Resources: &corev1.ResourceRequirementsArgs{
								Requests: pulumi.StringMap{
									"cpu":    pulumi.String("128m"),
									"memory": pulumi.String("256Mi"),
								},
								Limits: pulumi.StringMap{
									"memory": pulumi.String("512Mi"),
								},
							},
							ReadinessProbe: &corev1.ProbeArgs{
								HttpGet: &corev1.HTTPGetActionArgs{
									Path: pulumi.String(svc.HealthPath),
									Port: pulumi.Int(svc.Port),
								},
								InitialDelaySeconds: pulumi.Int(10),
								PeriodSeconds:       pulumi.Int(10),
							},
							LivenessProbe: &corev1.ProbeArgs{
								HttpGet: &corev1.HTTPGetActionArgs{
									Path: pulumi.String(svc.HealthPath),
									Port: pulumi.Int(svc.Port),
								},
								InitialDelaySeconds: pulumi.Int(30),
								PeriodSeconds:       pulumi.Int(20),
							},
						},
					},
				},
			},
		},
	}, pulumi.Provider(cluster.Provider), pulumi.DependsOn([]pulumi.Resource{out.Namespace}))
	if err != nil {
		return err
	}
	out.Deployments[svc.Name] = deployment

	// The ui service fronts the application through an ELB; everything else
	// is reachable only inside the cluster.
	serviceType := "ClusterIP"
	if svc.Public {
		serviceType = "LoadBalancer"
	}
	service, err := corev1.NewService(ctx, svc.Name, &corev1.ServiceArgs{
		Metadata: &metav1.ObjectMetaArgs{
			Name:      pulumi.String(svc.Name),
			Namespace: pulumi.String(namespace),
			Labels:    labels,
		},
		Spec: &corev1.ServiceSpecArgs{
			Type:     pulumi.String(serviceType),
			Selector: selector,
			Ports: corev1.ServicePortArray{
				corev1.ServicePortArgs{
					Name:       pulumi.String("http"),
					Port:       pulumi.Int(80),
					TargetPort: pulumi.Int(svc.Port),
				},
			},
		},
	}, pulumi.Provider(cluster.Provider), pulumi.DependsOn([]pulumi.Resource{out.Namespace}))
	if err != nil {
		return err
	}
	out.Services[svc.Name] = service
	return nil
}

// envVars renders an env map in sorted order so the rendered pod spec is
// stable across deploys.
func envVars(env map[string]string) corev1.EnvVarArray {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := corev1.EnvVarArray{}
	for _, k := range keys {
		out = append(out, corev1.EnvVarArgs{
			Name:  pulumi.String(k),
			Value: pulumi.String(env[k]),
		})
	}
	return out
}
