package clusterconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/loykin/ray-operator/internal/cluster"
)

// Paths maps cluster identifiers to config file locations below Root:
// <root>/<namespace>/<name>.yaml.
type Paths struct {
	Root string
}

// DefaultRoot returns ~/ray_cluster_configs, or a directory under the
// system temp dir when no home directory is known.
func DefaultRoot() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "ray_cluster_configs")
	}
	return filepath.Join(os.TempDir(), "ray_cluster_configs")
}

// NamespaceDir returns the directory holding configs of a namespace,
// creating it if needed.
func (p Paths) NamespaceDir(namespace string) (string, error) {
	if !safeSegment(namespace) {
		return "", fmt.Errorf("invalid namespace %q", namespace)
	}
	dir := filepath.Join(p.root(), namespace)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

// ConfigPath returns the deterministic config file path of a cluster.
func (p Paths) ConfigPath(id cluster.ID) (string, error) {
	if !safeSegment(id.Name) {
		return "", fmt.Errorf("invalid cluster name %q", id.Name)
	}
	dir, err := p.NamespaceDir(id.Namespace)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, id.Name+".yaml"), nil
}

func (p Paths) root() string {
	if p.Root == "" {
		return DefaultRoot()
	}
	return p.Root
}

// Write serializes doc to path, replacing any previous content.
func Write(path string, doc Document) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Read parses the config file at path.
func Read(path string) (Document, error) {
	b, err := os.ReadFile(path) // #nosec G304 path comes from Paths
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return doc, nil
}

// Remove deletes the config file. A missing file is reported as an error
// satisfying errors.Is(err, fs.ErrNotExist).
func Remove(path string) error {
	return os.Remove(path)
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
