package k8s

import "errors"

// ErrKubeconfigPathEmpty is returned when kubeconfig path is empty.
var ErrKubeconfigPathEmpty = errors.New("kubeconfig path is empty")

// ErrObjectIncomplete is returned when an object lacks apiVersion, kind or name.
var ErrObjectIncomplete = errors.New("object is missing apiVersion, kind or name")
