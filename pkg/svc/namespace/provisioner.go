// Package namespace provisions the namespaces stages apply into.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/utils/netretry"
	"github.com/siderolabs/go-retry/retry"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	// LabelManagedBy marks namespaces created by stageflow.
	LabelManagedBy = "app.kubernetes.io/managed-by"
	// ManagedByValue is the value of LabelManagedBy.
	ManagedByValue = "stageflow"

	defaultRetryTimeout = 30 * time.Second
	defaultRetryUnit    = 200 * time.Millisecond
)

// ErrNamespaceProvision marks a namespace that could not be ensured.
var ErrNamespaceProvision = errors.New("namespace provisioning failed")

// ProvisionError wraps the cause of a failed EnsureNamespace.
type ProvisionError struct {
	Namespace string
	Err       error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrNamespaceProvision, e.Namespace, e.Err)
}

func (e *ProvisionError) Unwrap() []error {
	return []error{ErrNamespaceProvision, e.Err}
}

// Provisioner creates namespaces that do not exist yet. It never deletes.
type Provisioner struct {
	client       client.Client
	logger       *slog.Logger
	retryTimeout time.Duration
	retryUnit    time.Duration
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(k8sClient client.Client, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provisioner{
		client:       k8sClient,
		logger:       logger,
		retryTimeout: defaultRetryTimeout,
		retryUnit:    defaultRetryUnit,
	}
}

// WithRetry overrides the total retry budget and the backoff unit.
func (p *Provisioner) WithRetry(timeout, unit time.Duration) *Provisioner {
	p.retryTimeout = timeout
	p.retryUnit = unit

	return p
}

// EnsureNamespace creates the namespace if absent and is a no-op otherwise.
// Transient API errors are retried with exponential backoff.
func (p *Provisioner) EnsureNamespace(ctx context.Context, name string) error {
	err := retry.Exponential(p.retryTimeout, retry.WithUnits(p.retryUnit), retry.WithJitter(p.retryUnit/2)).
		RetryWithContext(ctx, func(ctx context.Context) error {
			ensureErr := p.ensure(ctx, name)
			if ensureErr != nil && netretry.IsRetryable(ensureErr) {
				return retry.ExpectedError(ensureErr)
			}

			return ensureErr
		})
	if err != nil {
		return &ProvisionError{Namespace: name, Err: err}
	}

	return nil
}

func (p *Provisioner) ensure(ctx context.Context, name string) error {
	existing := &corev1.Namespace{}

	err := p.client.Get(ctx, client.ObjectKey{Name: name}, existing)
	if err == nil {
		return nil
	}

	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("get namespace: %w", err)
	}

	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{LabelManagedBy: ManagedByValue},
		},
	}

	err = p.client.Create(ctx, namespace)
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create namespace: %w", err)
	}

	if err == nil {
		p.logger.Info("created namespace", "namespace", name)
	}

	return nil
}
