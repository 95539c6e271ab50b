// Package credential writes repository credentials into the cluster and
// renders cross-namespace secret copies.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/cheap-k8s/stageflow/pkg/svc/registry"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	// KeyUsername is the secret key holding the user name.
	KeyUsername = "username"
	// KeyPassword is the secret key holding the password or token.
	KeyPassword = "password"

	labelManagedBy = "app.kubernetes.io/managed-by"
	managedByValue = "stageflow"
)

// ErrCredentialMissing is returned when a repository secret holds no credential.
var ErrCredentialMissing = errors.New("credential secret missing")

// Binder stores repository credentials as secrets in the system namespace.
type Binder struct {
	client    client.Client
	namespace string
	logger    *slog.Logger
}

// NewBinder creates a Binder writing into namespace.
func NewBinder(k8sClient client.Client, namespace string, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Binder{client: k8sClient, namespace: namespace, logger: logger}
}

// Namespace returns the namespace holding credential secrets.
func (b *Binder) Namespace() string { return b.namespace }

// BindCredential creates or updates the git-secret-{repo} secret. An
// unchanged secret is not written. Repositories without a credential are skipped.
func (b *Binder) BindCredential(ctx context.Context, repo registry.Repository) error {
	if repo.Credential.IsZero() {
		b.logger.Debug("repository has no credential", "repository", repo.Name)

		return nil
	}

	secret := b.secretFor(repo)
	existing := &corev1.Secret{}

	err := b.client.Get(ctx, client.ObjectKeyFromObject(secret), existing)
	if apierrors.IsNotFound(err) {
		createErr := b.client.Create(ctx, secret)
		if createErr != nil {
			return fmt.Errorf("failed to create credential secret %s: %w", secret.Name, createErr)
		}

		b.logger.Info("bound repository credential", "repository", repo.Name, "secret", secret.Name)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to check credential secret %s: %w", secret.Name, err)
	}

	if maps.EqualFunc(existing.Data, secret.Data, bytesEqual) {
		return nil
	}

	existing.Data = secret.Data
	existing.StringData = nil

	updateErr := b.client.Update(ctx, existing)
	if updateErr != nil {
		return fmt.Errorf("failed to update credential secret %s: %w", secret.Name, updateErr)
	}

	b.logger.Info("rotated repository credential", "repository", repo.Name, "secret", secret.Name)

	return nil
}

// ReadCredential reads the bound credential of a repository back from the cluster.
func (b *Binder) ReadCredential(ctx context.Context, repo registry.Repository) (registry.Credential, error) {
	secret := &corev1.Secret{}

	err := b.client.Get(ctx, client.ObjectKey{Namespace: b.namespace, Name: repo.SecretName()}, secret)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return registry.Credential{}, fmt.Errorf("%w: %s/%s", ErrCredentialMissing, b.namespace, repo.SecretName())
		}

		return registry.Credential{}, fmt.Errorf("failed to read credential secret: %w", err)
	}

	return registry.NewCredential(string(secret.Data[KeyUsername]), string(secret.Data[KeyPassword])), nil
}

func (b *Binder) secretFor(repo registry.Repository) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      repo.SecretName(),
			Namespace: b.namespace,
			Labels: map[string]string{
				labelManagedBy:            managedByValue,
				"stageflow.io/repository": repo.Name,
			},
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			KeyUsername: []byte(repo.Credential.Username()),
			KeyPassword: []byte(repo.Credential.Password()),
		},
	}
}

func bytesEqual(a, b []byte) bool {
	return string(a) == string(b)
}
