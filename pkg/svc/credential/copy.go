package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

var (
	// ErrSourceSecretMissing is returned when the secret to copy does not exist yet.
	ErrSourceSecretMissing = errors.New("source secret not found")
	// ErrNotCopyStage is returned when a non-copy stage reaches the copy renderer.
	ErrNotCopyStage = errors.New("stage is not a copy stage")
)

// CopyRenderer renders copy stages: the source secret cloned into the target
// namespace. The revision is a hash of the secret content, so a rotated
// source secret is copied again.
type CopyRenderer struct {
	client client.Reader
}

// NewCopyRenderer creates a CopyRenderer.
func NewCopyRenderer(reader client.Reader) *CopyRenderer {
	return &CopyRenderer{client: reader}
}

// Revision returns the content hash of the source secret.
func (r *CopyRenderer) Revision(ctx context.Context, stage planner.Stage) (string, error) {
	secret, err := r.source(ctx, stage)
	if err != nil {
		return "", err
	}

	return dataHash(secret), nil
}

// Render returns the secret copy.
func (r *CopyRenderer) Render(ctx context.Context, stage planner.Stage, _ string) ([]*unstructured.Unstructured, error) {
	source, err := r.source(ctx, stage)
	if err != nil {
		return nil, err
	}

	copied := &corev1.Secret{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      stage.Copy.Name,
			Namespace: stage.Namespace,
			Labels:    map[string]string{labelManagedBy: managedByValue},
			Annotations: map[string]string{
				"stageflow.io/copied-from": source.Namespace + "/" + source.Name,
			},
		},
		Type: source.Type,
		Data: source.Data,
	}

	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(copied)
	if err != nil {
		return nil, fmt.Errorf("convert secret copy: %w", err)
	}

	obj := &unstructured.Unstructured{Object: content}
	unstructured.RemoveNestedField(obj.Object, "metadata", "creationTimestamp")

	return []*unstructured.Unstructured{obj}, nil
}

func (r *CopyRenderer) source(ctx context.Context, stage planner.Stage) (*corev1.Secret, error) {
	if stage.Copy == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotCopyStage, stage.Name())
	}

	secret := &corev1.Secret{}
	key := client.ObjectKey{Namespace: stage.Copy.FromNamespace, Name: stage.Copy.FromName}

	err := r.client.Get(ctx, key, secret)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceSecretMissing, key)
		}

		return nil, fmt.Errorf("read source secret %s: %w", key, err)
	}

	return secret, nil
}

// dataHash hashes the type and data of a secret in key order.
func dataHash(secret *corev1.Secret) string {
	hash := sha256.New()
	hash.Write([]byte(secret.Type))

	keys := make([]string, 0, len(secret.Data))
	for key := range secret.Data {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	for _, key := range keys {
		hash.Write([]byte{0})
		hash.Write([]byte(key))
		hash.Write([]byte{0})
		hash.Write(secret.Data[key])
	}

	return "sha256:" + hex.EncodeToString(hash.Sum(nil))
}
