package k8s

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
)

// NewRESTMapper creates a discovery-backed RESTMapper whose cache can be
// reset when new kinds (CRDs) are installed.
func NewRESTMapper(restConfig *rest.Config) (meta.ResettableRESTMapper, error) {
	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}

	return restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(discoveryClient)), nil
}

// NewClusterForConfig builds a Cluster backed by a dynamic client and a
// discovery RESTMapper.
func NewClusterForConfig(restConfig *rest.Config) (*Cluster, error) {
	client, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	mapper, err := NewRESTMapper(restConfig)
	if err != nil {
		return nil, err
	}

	return NewCluster(client, mapper), nil
}

// NewClusterFromKubeconfig builds a Cluster for the given kubeconfig and context.
func NewClusterFromKubeconfig(kubeconfig, context string) (*Cluster, *rest.Config, error) {
	restConfig, err := BuildRESTConfig(kubeconfig, context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build rest config: %w", err)
	}

	cluster, err := NewClusterForConfig(restConfig)
	if err != nil {
		return nil, nil, err
	}

	return cluster, restConfig, nil
}
