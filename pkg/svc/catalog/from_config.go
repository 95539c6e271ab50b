package catalog

import (
	"fmt"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/apis/catalog/v1alpha1"
	"github.com/cheap-k8s/stageflow/pkg/svc/registry"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// FromConfig builds a registry and a catalog from a validated catalog document.
func FromConfig(cfg *v1alpha1.Catalog) (*registry.Registry, *Catalog, error) {
	reg := registry.New()
	defaults := cfg.Spec.Defaults

	for _, repo := range cfg.Spec.Repositories {
		err := reg.Add(registry.Repository{
			Name:       repo.Name,
			URL:        repo.URL,
			Branch:     repo.Branch,
			Credential: registry.NewCredential(repo.Credential.Username, repo.Credential.Password),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("register repository: %w", err)
		}
	}

	cat := New(reg)

	for _, repo := range cfg.Spec.Repositories {
		for _, spec := range repo.Targets {
			target, err := targetFromSpec(repo.Name, spec, defaults)
			if err != nil {
				return nil, nil, err
			}

			err = cat.Add(target)
			if err != nil {
				return nil, nil, fmt.Errorf("declare target: %w", err)
			}
		}
	}

	return reg, cat, nil
}

func targetFromSpec(repository string, spec v1alpha1.Target, defaults v1alpha1.StageDefaults) (Target, error) {
	deps := make([]Ref, 0, len(spec.DependsOn))

	for _, value := range spec.DependsOn {
		ref, err := ParseRef(repository, value)
		if err != nil {
			return Target{}, fmt.Errorf("target %s/%s: %w", repository, spec.Name, err)
		}

		deps = append(deps, ref)
	}

	secrets := make([]SecretCopy, 0, len(spec.Secrets))
	for _, secret := range spec.Secrets {
		secrets = append(secrets, SecretCopy{
			Name:          secret.Name,
			FromNamespace: secret.From.Namespace,
			FromName:      secret.From.Name,
		})
	}

	prune := true
	if spec.Prune != nil {
		prune = *spec.Prune
	}

	return Target{
		Repository:    repository,
		Name:          spec.Name,
		Path:          spec.Path,
		Namespace:     spec.Namespace,
		DependsOn:     deps,
		Pre:           stepFromSpec(spec.Step.Pre),
		Post:          stepFromSpec(spec.Step.Post),
		Secrets:       secrets,
		Interval:      orDefault(spec.Interval, defaults.Interval),
		Timeout:       orDefault(spec.Timeout, defaults.Timeout),
		RetryInterval: orDefault(spec.RetryInterval, defaults.RetryInterval),
		Prune:         prune,
	}, nil
}

// stepFromSpec converts a step; pre and post stages force by default.
func stepFromSpec(step v1alpha1.Step) Step {
	force := true
	if step.Force != nil {
		force = *step.Force
	}

	return Step{Enabled: step.Enable, Path: step.Path, Force: force}
}

func orDefault(value, fallback metav1.Duration) time.Duration {
	if value.Duration > 0 {
		return value.Duration
	}

	return fallback.Duration
}
