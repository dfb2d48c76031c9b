package eks

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// generateKubeconfig renders a kubeconfig that authenticates through
// `aws eks get-token`, the same document `aws eks update-kubeconfig` writes.
func generateKubeconfig(clusterEndpoint pulumi.StringOutput, certData pulumi.StringOutput, clusterName pulumi.StringOutput) pulumi.StringOutput {
	return pulumi.Sprintf(`{
    "apiVersion": "v1",
    "clusters": [{
        "cluster": {
            "server": "%s",
            "certificate-authority-data": "%s"
        },
        "name": "kubernetes"
    }],
    "contexts": [{
        "context": {
            "cluster": "kubernetes",
            "user": "aws"
        },
        "name": "aws"
    }],
    "current-context": "aws",
    "kind": "Config",
    "users": [{
        "name": "aws",
        "user": {
            "exec": {
                "apiVersion": "client.authentication.k8s.io/v1beta1",
                "command": "aws",
                "args": [
                    "eks",
                    "get-token",
                    "--cluster-name",
                    "%s"
                ]
            }
        }
    }]
}`, clusterEndpoint, certData, clusterName)
}
