package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/loykin/ray-operator/internal/cluster"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// clusterParam reads :namespace and :name and checks them against the
// Kubernetes naming rules for namespaces and object names.
func clusterParam(c *gin.Context) (cluster.ID, bool) {
	id := cluster.ID{Namespace: c.Param("namespace"), Name: c.Param("name")}
	if len(validation.IsDNS1123Label(id.Namespace)) > 0 {
		return id, false
	}
	if len(validation.IsDNS1123Subdomain(id.Name)) > 0 {
		return id, false
	}
	return id, true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
