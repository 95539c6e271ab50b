package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// NewCatalog creates an empty Catalog with type metadata and defaults applied.
func NewCatalog() *Catalog {
	catalog := &Catalog{
		TypeMeta: metav1.TypeMeta{
			Kind:       Kind,
			APIVersion: APIVersion,
		},
	}
	catalog.SetDefaults()

	return catalog
}
