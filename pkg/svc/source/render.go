package source

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/kustomize/api/konfig"
	"sigs.k8s.io/kustomize/api/krusty"
	"sigs.k8s.io/kustomize/kyaml/filesys"
	"sigs.k8s.io/kustomize/kyaml/kio"
)

func renderTree(root *object.Tree, dir string) ([]*unstructured.Unstructured, error) {
	tree := root

	if dir != "" {
		sub, err := root.Tree(dir)
		if err != nil {
			if errors.Is(err, object.ErrDirectoryNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, dir)
			}

			return nil, fmt.Errorf("read directory %s: %w", dir, err)
		}

		tree = sub
	}

	if hasKustomization(tree) {
		return build(root, dir)
	}

	return readManifests(tree)
}

func hasKustomization(tree *object.Tree) bool {
	for _, entry := range tree.Entries {
		if entry.Mode.IsFile() && slices.Contains(konfig.RecognizedKustomizationFileNames(), entry.Name) {
			return true
		}
	}

	return false
}

// build copies the whole commit into memory so bases outside dir resolve.
func build(root *object.Tree, dir string) ([]*unstructured.Unstructured, error) {
	fs := filesys.MakeFsInMemory()

	err := root.Files().ForEach(func(file *object.File) error {
		contents, err := file.Contents()
		if err != nil {
			return fmt.Errorf("read %s: %w", file.Name, err)
		}

		name := "/" + file.Name

		err = fs.MkdirAll(path.Dir(name))
		if err != nil {
			return fmt.Errorf("create %s: %w", path.Dir(name), err)
		}

		return fs.WriteFile(name, []byte(contents))
	})
	if err != nil {
		return nil, err
	}

	kustomizer := krusty.MakeKustomizer(krusty.MakeDefaultOptions())

	resources, err := kustomizer.Run(fs, "/"+dir)
	if err != nil {
		return nil, fmt.Errorf("kustomize build: %w", err)
	}

	data, err := resources.AsYaml()
	if err != nil {
		return nil, fmt.Errorf("encode kustomize output: %w", err)
	}

	return Decode(data)
}

func readManifests(tree *object.Tree) ([]*unstructured.Unstructured, error) {
	var objects []*unstructured.Unstructured

	for _, entry := range tree.Entries {
		if !entry.Mode.IsFile() || !isManifest(entry.Name) {
			continue
		}

		file, err := tree.File(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", entry.Name, err)
		}

		contents, err := file.Contents()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name, err)
		}

		decoded, err := Decode([]byte(contents))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Name, err)
		}

		objects = append(objects, decoded...)
	}

	return objects, nil
}

func isManifest(name string) bool {
	ext := strings.ToLower(path.Ext(name))

	return ext == ".yaml" || ext == ".yml"
}

// Decode parses a multi-document YAML stream into unstructured objects.
// Empty documents are skipped.
func Decode(data []byte) ([]*unstructured.Unstructured, error) {
	nodes, err := kio.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	objects := make([]*unstructured.Unstructured, 0, len(nodes))

	for _, node := range nodes {
		if node.IsNilOrEmpty() {
			continue
		}

		raw, err := node.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", node.GetName(), err)
		}

		obj := &unstructured.Unstructured{}

		err = obj.UnmarshalJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", node.GetName(), err)
		}

		objects = append(objects, obj)
	}

	return objects, nil
}
