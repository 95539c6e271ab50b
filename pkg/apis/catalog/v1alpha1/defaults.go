package v1alpha1

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// DefaultSystemNamespace is the namespace holding credential secrets and Flux sources.
	DefaultSystemNamespace = "flux-system"
	// DefaultBranch is the branch tracked when a repository does not name one.
	DefaultBranch = "main"
	// DefaultKubeconfigPath is the default path to the kubeconfig file.
	DefaultKubeconfigPath = "~/.kube/config"
	// DefaultInterval is how often a Ready stage is reconciled absent any change.
	DefaultInterval = 60 * time.Minute
	// DefaultTimeout bounds a single reconciliation attempt.
	DefaultTimeout = 3 * time.Minute
	// DefaultRetryInterval is the delay before a Failed stage is attempted again.
	DefaultRetryInterval = time.Minute
	// DefaultSourceInterval is how often repository branches are resolved.
	DefaultSourceInterval = time.Minute
)

// SetDefaults fills unset catalog fields with their default values.
func (c *Catalog) SetDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = APIVersion
	}

	if c.Kind == "" {
		c.Kind = Kind
	}

	if c.Spec.SystemNamespace == "" {
		c.Spec.SystemNamespace = DefaultSystemNamespace
	}

	if c.Spec.Connection.Kubeconfig == "" {
		c.Spec.Connection.Kubeconfig = DefaultKubeconfigPath
	}

	defaultDuration(&c.Spec.Defaults.Interval, DefaultInterval)
	defaultDuration(&c.Spec.Defaults.Timeout, DefaultTimeout)
	defaultDuration(&c.Spec.Defaults.RetryInterval, DefaultRetryInterval)
	defaultDuration(&c.Spec.Defaults.SourceInterval, DefaultSourceInterval)

	for i := range c.Spec.Repositories {
		if c.Spec.Repositories[i].Branch == "" {
			c.Spec.Repositories[i].Branch = DefaultBranch
		}
	}
}

func defaultDuration(target *metav1.Duration, value time.Duration) {
	if target.Duration == 0 {
		target.Duration = value
	}
}
