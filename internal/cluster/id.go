// Package cluster holds the identity shared by every per-cluster component.
package cluster

import (
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// ID identifies a cluster by resource name and namespace. Its zero value is
// never a valid identifier.
type ID struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// IDOf returns the identifier of a resource object.
func IDOf(obj metav1.Object) ID {
	return ID{Name: obj.GetName(), Namespace: obj.GetNamespace()}
}

// Parse reads the "name,namespace" form produced by String.
func Parse(s string) (ID, error) {
	name, ns, ok := strings.Cut(s, ",")
	if !ok || name == "" || ns == "" {
		return ID{}, fmt.Errorf("invalid cluster id %q: want name,namespace", s)
	}
	return ID{Name: name, Namespace: ns}, nil
}

// String renders the identifier as "name,namespace". The form is used as the
// log attribution prefix for everything done on behalf of the cluster.
func (id ID) String() string { return id.Name + "," + id.Namespace }

// NamespacedName converts to the client key type.
func (id ID) NamespacedName() types.NamespacedName {
	return types.NamespacedName{Name: id.Name, Namespace: id.Namespace}
}

func (id ID) IsZero() bool { return id.Name == "" && id.Namespace == "" }
