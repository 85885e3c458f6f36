// Package clusterconfig converts RayCluster resources into autoscaler config
// documents and manages their files on disk.
package clusterconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/runtime"
)

// DefaultHeadPort is the GCS port used when no head start command sets --port.
const DefaultHeadPort = "6379"

// ErrRedisPasswordSpecified rejects head start commands that set their own Redis password.
var ErrRedisPasswordSpecified = errors.New("setting a custom Redis password in Ray start commands is not supported")

// Document is an autoscaler cluster config. Values are JSON-typed
// (string, float64, int64, bool, []any, map[string]any) so documents can be
// deep copied and round tripped through YAML without loss.
type Document map[string]any

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return runtime.DeepCopyJSON(d)
}

// ClusterName returns the cluster_name entry.
func (d Document) ClusterName() string {
	s, _ := d["cluster_name"].(string)
	return s
}

// HeadStartRayCommands returns head_start_ray_commands as strings.
func (d Document) HeadStartRayCommands() []string {
	return stringSlice(d["head_start_ray_commands"])
}

// CheckRedisPasswordNotSpecified returns ErrRedisPasswordSpecified when any
// head start command passes --redis-password.
func CheckRedisPasswordNotSpecified(d Document) error {
	for _, cmd := range d.HeadStartRayCommands() {
		if strings.Contains(cmd, "--redis-password") {
			return fmt.Errorf("cluster %q: %w", d.ClusterName(), ErrRedisPasswordSpecified)
		}
	}
	return nil
}

// InferHeadPort scans the "ray start" head commands for a --port argument.
// Both "--port=N" and "--port N" are recognized.
func InferHeadPort(d Document) string {
	for _, cmd := range d.HeadStartRayCommands() {
		if !strings.HasPrefix(strings.TrimSpace(cmd), "ray start") {
			continue
		}
		fields := strings.Fields(cmd)
		for i, f := range fields {
			if v, ok := strings.CutPrefix(f, "--port="); ok && v != "" {
				return v
			}
			if f == "--port" && i+1 < len(fields) {
				return fields[i+1]
			}
		}
	}
	return DefaultHeadPort
}

// normalize converts arbitrary Go values into their JSON-typed equivalents.
func normalize(v map[string]any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
