// Package health checks a deployed cluster from the outside: are the nodes
// Ready, are the retail store deployments available, and where is the ui
// load balancer. It only reads; nothing here mutates cluster state.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/jpillora/backoff"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Check names what Wait polls for.
type Check struct {
	Namespace string
	UIService string
}

// NodesReady reports whether every node in the cluster has a Ready condition
// of True, along with the total node count.
func NodesReady(ctx context.Context, client kubernetes.Interface) (bool, int, error) {
	nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, 0, fmt.Errorf("list nodes: %w", err)
	}
	if len(nodes.Items) == 0 {
		return false, 0, nil
	}
	for _, node := range nodes.Items {
		if !nodeReady(&node) {
			return false, len(nodes.Items), nil
		}
	}
	return true, len(nodes.Items), nil
}

func nodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// DeploymentsAvailable reports whether every deployment in the namespace has
// reached its desired replica count, returning the names still pending.
func DeploymentsAvailable(ctx context.Context, client kubernetes.Interface, namespace string) (bool, []string, error) {
	deployments, err := client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, nil, fmt.Errorf("list deployments in %s: %w", namespace, err)
	}
	if len(deployments.Items) == 0 {
		return false, nil, nil
	}
	var pending []string
	for _, dep := range deployments.Items {
		desired := int32(1)
		if dep.Spec.Replicas != nil {
			desired = *dep.Spec.Replicas
		}
		if dep.Status.AvailableReplicas < desired {
			pending = append(pending, dep.Name)
		}
	}
	return len(pending) == 0, pending, nil
}

// ServiceHostname returns the external hostname of a LoadBalancer service,
// or empty if the ELB has not been provisioned yet.
func ServiceHostname(ctx context.Context, client kubernetes.Interface, namespace, name string) (string, error) {
	svc, err := client.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get service %s/%s: %w", namespace, name, err)
	}
	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		if ingress.Hostname != "" {
			return ingress.Hostname, nil
		}
		if ingress.IP != "" {
			return ingress.IP, nil
		}
	}
	return "", nil
}

// Wait polls until the nodes are Ready, the namespace's deployments are
// available and the ui service has a hostname, backing off between attempts.
// It returns the ui hostname, or an error once ctx is done.
func Wait(ctx context.Context, client kubernetes.Interface, check Check, logger log15.Logger) (string, error) {
	b := &backoff.Backoff{
		Min:    2 * time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		ready, nodes, err := NodesReady(ctx, client)
		switch {
		case err != nil:
			logger.Warn("node check failed", "err", err)
		case !ready:
			logger.Info("waiting for nodes", "total", nodes)
		default:
			available, pending, err := DeploymentsAvailable(ctx, client, check.Namespace)
			switch {
			case err != nil:
				logger.Warn("deployment check failed", "err", err)
			case !available:
				logger.Info("waiting for deployments", "namespace", check.Namespace, "pending", pending)
			default:
				hostname, err := ServiceHostname(ctx, client, check.Namespace, check.UIService)
				if err != nil {
					logger.Warn("service check failed", "err", err)
				} else if hostname != "" {
					return hostname, nil
				} else {
					logger.Info("waiting for load balancer", "service", check.UIService)
				}
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("cluster did not become healthy: %w", ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
}
