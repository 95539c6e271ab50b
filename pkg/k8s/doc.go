// Package k8s adapts a Kubernetes cluster to the generic object operations
// the reconciliation driver needs.
//
// Key features:
//   - REST config building from kubeconfig files (BuildRESTConfig)
//   - Dynamic client and discovery-backed RESTMapper creation (NewCluster)
//   - Generic get/list/create/update/delete of unstructured objects (Cluster)
//   - Object health evaluation with kstatus (ComputeHealth)
package k8s
