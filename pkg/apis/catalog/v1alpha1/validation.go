package v1alpha1

import (
	"errors"
	"fmt"
	"regexp"
)

// nameRegex matches DNS-1123 labels: lowercase alphanumeric with optional hyphens.
var nameRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// NameMaxLength is the maximum length for repository, target and namespace names.
const NameMaxLength = 63

// ValidateName validates that a name is a DNS-1123 label.
// Repository and target names end up in namespace and object names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}

	if len(name) > NameMaxLength {
		return fmt.Errorf(
			"%w: %q exceeds max %d characters (got %d)",
			ErrNameTooLong, name, NameMaxLength, len(name),
		)
	}

	if !nameRegex.MatchString(name) {
		return fmt.Errorf(
			"%w: %q must be DNS-1123 compliant "+
				"(lowercase letters, numbers, and hyphens; must not start or end with a hyphen)",
			ErrNameInvalid, name,
		)
	}

	return nil
}

// Validate checks the catalog for structural problems. All problems are
// reported at once so a broken catalog can be fixed in one pass.
func (c *Catalog) Validate() error {
	var errs []error

	if c.APIVersion != APIVersion {
		errs = append(errs, fmt.Errorf("%w: %q, expected %q", ErrInvalidAPIVersion, c.APIVersion, APIVersion))
	}

	if c.Kind != Kind {
		errs = append(errs, fmt.Errorf("%w: %q, expected %q", ErrInvalidKind, c.Kind, Kind))
	}

	seen := make(map[string]struct{}, len(c.Spec.Repositories))

	for i := range c.Spec.Repositories {
		repo := &c.Spec.Repositories[i]

		if _, dup := seen[repo.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateRepository, repo.Name))
		}

		seen[repo.Name] = struct{}{}

		errs = append(errs, repo.validate()...)
	}

	return errors.Join(errs...)
}

func (r *Repository) validate() []error {
	var errs []error

	if err := ValidateName(r.Name); err != nil {
		errs = append(errs, fmt.Errorf("repository: %w", err))
	}

	if r.URL == "" {
		errs = append(errs, fmt.Errorf("%w: repository %q url", ErrMissingField, r.Name))
	}

	targets := make(map[string]struct{}, len(r.Targets))

	for i := range r.Targets {
		target := &r.Targets[i]

		if _, dup := targets[target.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: %q in repository %q", ErrDuplicateTarget, target.Name, r.Name))
		}

		targets[target.Name] = struct{}{}

		errs = append(errs, target.validate(r.Name)...)
	}

	return errs
}

func (t *Target) validate(repository string) []error {
	var errs []error

	if err := ValidateName(t.Name); err != nil {
		errs = append(errs, fmt.Errorf("repository %q target: %w", repository, err))
	}

	if t.Path == "" {
		errs = append(errs, fmt.Errorf("%w: repository %q target %q path", ErrMissingField, repository, t.Name))
	}

	namespace := t.Namespace
	if namespace == "" {
		namespace = repository + "-" + t.Name
	}

	if err := ValidateName(namespace); err != nil {
		errs = append(errs, fmt.Errorf("repository %q target %q namespace: %w", repository, t.Name, err))
	}

	for _, secret := range t.Secrets {
		if secret.Name == "" || secret.From.Name == "" || secret.From.Namespace == "" {
			errs = append(errs, fmt.Errorf(
				"%w: repository %q target %q secret copy needs name, from.namespace and from.name",
				ErrMissingField, repository, t.Name,
			))
		}
	}

	return errs
}
