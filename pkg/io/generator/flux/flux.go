// Package flux renders a stage graph as Flux GitRepository and Kustomization
// manifests, so the same rollout can be handed over to Flux controllers.
package flux

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/io/generator"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/cheap-k8s/stageflow/pkg/svc/registry"
	kustomizev1 "github.com/fluxcd/kustomize-controller/api/v1"
	"github.com/fluxcd/pkg/apis/meta"
	sourcev1 "github.com/fluxcd/source-controller/api/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/yaml"
)

const (
	// DefaultNamespace is where the Flux objects are created.
	DefaultNamespace = "flux-system"
	// DefaultSourceInterval is the polling interval of generated GitRepository objects.
	DefaultSourceInterval = time.Minute

	documentSeparator = "---\n"
)

// ErrNilGraph is returned when no graph is given.
var ErrNilGraph = errors.New("graph is nil")

// Model is the input of the generator.
type Model struct {
	Graph    *planner.Graph
	Registry *registry.Registry
}

// Options tune the generated objects.
type Options struct {
	// Namespace of the Flux objects. Defaults to DefaultNamespace.
	Namespace string
	// SourceInterval of the GitRepository objects. Defaults to DefaultSourceInterval.
	SourceInterval time.Duration
}

// Generator renders Flux manifests.
type Generator struct{}

var _ generator.Generator[Model, Options] = (*Generator)(nil)

// NewGenerator creates a Generator.
func NewGenerator() *Generator { return &Generator{} }

// Generate writes one GitRepository per repository followed by one
// Kustomization per stage of that repository, as a multi-document stream.
// Copy stages have no Flux counterpart and are skipped.
func (g *Generator) Generate(model Model, opts Options) (string, error) {
	if model.Graph == nil {
		return "", ErrNilGraph
	}

	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}

	if opts.SourceInterval <= 0 {
		opts.SourceInterval = DefaultSourceInterval
	}

	stagesByRepo := map[string][]planner.Stage{}
	for _, stage := range model.Graph.Stages() {
		stagesByRepo[stage.ID.Repository] = append(stagesByRepo[stage.ID.Repository], stage)
	}

	var builder strings.Builder

	for _, repo := range model.Registry.List() {
		err := writeDocument(&builder, GitRepository(repo, opts))
		if err != nil {
			return "", fmt.Errorf("generating GitRepository %s: %w", repo.SourceName(), err)
		}

		for _, stage := range stagesByRepo[repo.Name] {
			if stage.ID.Kind == planner.KindCopy {
				continue
			}

			err = writeDocument(&builder, Kustomization(stage, repo, opts), stage.DependsOn...)
			if err != nil {
				return "", fmt.Errorf("generating Kustomization %s: %w", stage.Name(), err)
			}
		}
	}

	return builder.String(), nil
}

// GitRepository builds the source object of a repository.
func GitRepository(repo registry.Repository, opts Options) *sourcev1.GitRepository {
	source := &sourcev1.GitRepository{
		TypeMeta: metav1.TypeMeta{
			APIVersion: sourcev1.GroupVersion.String(),
			Kind:       sourcev1.GitRepositoryKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      repo.SourceName(),
			Namespace: opts.Namespace,
		},
		Spec: sourcev1.GitRepositorySpec{
			URL:       repo.URL,
			Interval:  metav1.Duration{Duration: opts.SourceInterval},
			Reference: &sourcev1.GitRepositoryRef{Branch: repo.Branch},
		},
	}

	if !repo.Credential.IsZero() {
		source.Spec.SecretRef = &meta.LocalObjectReference{Name: repo.SecretName()}
	}

	return source
}

// Kustomization builds the Flux object reconciling a stage.
func Kustomization(stage planner.Stage, repo registry.Repository, opts Options) *kustomizev1.Kustomization {
	return &kustomizev1.Kustomization{
		TypeMeta: metav1.TypeMeta{
			APIVersion: kustomizev1.GroupVersion.String(),
			Kind:       kustomizev1.KustomizationKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      stage.Name(),
			Namespace: opts.Namespace,
		},
		Spec: kustomizev1.KustomizationSpec{
			Interval:        metav1.Duration{Duration: stage.Interval},
			Timeout:         &metav1.Duration{Duration: stage.Timeout},
			RetryInterval:   &metav1.Duration{Duration: stage.RetryInterval},
			Path:            stage.Path,
			Prune:           stage.Prune,
			Force:           stage.Force,
			Wait:            stage.Wait,
			TargetNamespace: stage.Namespace,
			SourceRef: kustomizev1.CrossNamespaceSourceReference{
				Kind:      sourcev1.GitRepositoryKind,
				Name:      repo.SourceName(),
				Namespace: opts.Namespace,
			},
		},
	}
}

func writeDocument(builder *strings.Builder, obj runtime.Object, dependsOn ...planner.ID) error {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	unstructured.RemoveNestedField(content, "status")
	unstructured.RemoveNestedField(content, "metadata", "creationTimestamp")

	// The dependency reference type varies across Flux API versions.
	if len(dependsOn) > 0 {
		deps := make([]any, 0, len(dependsOn))
		for _, id := range dependsOn {
			deps = append(deps, map[string]any{"name": id.String()})
		}

		err = unstructured.SetNestedSlice(content, deps, "spec", "dependsOn")
		if err != nil {
			return fmt.Errorf("set dependsOn: %w", err)
		}
	}

	data, err := yaml.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	builder.WriteString(documentSeparator)
	builder.Write(data)

	return nil
}
