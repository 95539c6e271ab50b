package v1alpha1

import "errors"

// ErrInvalidAPIVersion is returned when the catalog apiVersion is not supported.
var ErrInvalidAPIVersion = errors.New("invalid apiVersion")

// ErrInvalidKind is returned when the catalog kind is not Catalog.
var ErrInvalidKind = errors.New("invalid kind")

// ErrNameTooLong is returned when a name exceeds the maximum length.
var ErrNameTooLong = errors.New("name is too long")

// ErrNameInvalid is returned when a name is not DNS-1123 compliant.
var ErrNameInvalid = errors.New("name is invalid")

// ErrDuplicateRepository is returned when two repositories share a name.
var ErrDuplicateRepository = errors.New("duplicate repository")

// ErrDuplicateTarget is returned when two targets of a repository share a name.
var ErrDuplicateTarget = errors.New("duplicate target")

// ErrMissingField is returned when a required field is empty.
var ErrMissingField = errors.New("required field is empty")
