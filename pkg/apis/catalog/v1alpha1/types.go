package v1alpha1

import metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

const (
	// Group is the API group for stageflow.
	Group = "stageflow.io"
	// Version is the API version for stageflow.
	Version = "v1alpha1"
	// Kind is the kind for stageflow catalogs.
	Kind = "Catalog"
	// APIVersion is the full API version for stageflow.
	APIVersion = Group + "/" + Version
)

// --- Core Types ---

// Catalog is the desired-state input of the orchestrator. It lists the
// repositories to track and the targets rolled out from each of them.
type Catalog struct {
	metav1.TypeMeta `json:",inline" mapstructure:",squash"`

	Spec Spec `json:"spec,omitzero" mapstructure:"spec"`
}

// Spec defines the catalog content.
type Spec struct {
	// SystemNamespace holds the repository credential secrets and exported Flux sources.
	SystemNamespace string `default:"flux-system" json:"systemNamespace,omitzero" mapstructure:"systemNamespace"`
	Connection      Connection    `json:"connection,omitzero"   mapstructure:"connection"`
	Defaults        StageDefaults `json:"defaults,omitzero"     mapstructure:"defaults"`
	Repositories    []Repository  `json:"repositories,omitzero" mapstructure:"repositories"`
}

// Connection defines how the orchestrator reaches the cluster API.
type Connection struct {
	Kubeconfig string `default:"~/.kube/config" json:"kubeconfig,omitzero" mapstructure:"kubeconfig"`
	Context    string `                         json:"context,omitzero"    mapstructure:"context"`
}

// StageDefaults holds the scheduling values applied to every stage unless a target overrides them.
type StageDefaults struct {
	Interval       metav1.Duration `default:"60m" json:"interval,omitzero"       mapstructure:"interval"`
	Timeout        metav1.Duration `default:"3m"  json:"timeout,omitzero"        mapstructure:"timeout"`
	RetryInterval  metav1.Duration `default:"1m"  json:"retryInterval,omitzero"  mapstructure:"retryInterval"`
	SourceInterval metav1.Duration `default:"1m"  json:"sourceInterval,omitzero" mapstructure:"sourceInterval"`
}

// Repository is a Git repository tracked by the orchestrator.
type Repository struct {
	Name       string     `json:"name"                mapstructure:"name"`
	URL        string     `json:"url"                 mapstructure:"url"`
	Branch     string     `json:"branch,omitzero"     mapstructure:"branch"`
	Credential Credential `json:"credential,omitzero" mapstructure:"credential"`
	Targets    []Target   `json:"targets,omitzero"    mapstructure:"targets"`
}

// Credential is the read-only basic auth material for a repository.
// Password typically references an environment variable (${GITHUB_TOKEN}).
type Credential struct {
	Username string `json:"username,omitzero" mapstructure:"username"`
	Password string `json:"-"                 mapstructure:"password"`
}

// String never exposes the password.
func (c Credential) String() string {
	if c.Password == "" {
		return c.Username
	}

	return c.Username + ":[redacted]"
}

// Target is a deployment destination inside a repository.
type Target struct {
	Name      string       `json:"name"                mapstructure:"name"`
	Path      string       `json:"path"                mapstructure:"path"`
	Namespace string       `json:"namespace,omitzero"  mapstructure:"namespace"`
	DependsOn []string     `json:"dependsOn,omitzero"  mapstructure:"dependsOn"`
	Step      Steps        `json:"step,omitzero"       mapstructure:"step"`
	Secrets   []SecretCopy `json:"secrets,omitzero"    mapstructure:"secrets"`

	// Per-target overrides. Zero values fall back to the catalog defaults.
	Interval      metav1.Duration `json:"interval,omitzero"      mapstructure:"interval"`
	Timeout       metav1.Duration `json:"timeout,omitzero"       mapstructure:"timeout"`
	RetryInterval metav1.Duration `json:"retryInterval,omitzero" mapstructure:"retryInterval"`
	Prune         *bool           `json:"prune,omitempty"        mapstructure:"prune"`
}

// Steps holds the optional stages surrounding the apply stage.
type Steps struct {
	Pre  Step `json:"pre,omitzero"  mapstructure:"pre"`
	Post Step `json:"post,omitzero" mapstructure:"post"`
}

// Step toggles an optional stage and points it at its manifest directory.
type Step struct {
	Enable bool   `json:"enable,omitzero" mapstructure:"enable"`
	Path   string `json:"path,omitzero"   mapstructure:"path"`
	Force  *bool  `json:"force,omitempty" mapstructure:"force"`
}

// SecretCopy clones a secret produced by another controller into the target namespace.
type SecretCopy struct {
	Name string          `json:"name"  mapstructure:"name"`
	From SecretReference `json:"from"  mapstructure:"from"`
}

// SecretReference points at a secret in another namespace.
type SecretReference struct {
	Namespace string `json:"namespace" mapstructure:"namespace"`
	Name      string `json:"name"      mapstructure:"name"`
}
