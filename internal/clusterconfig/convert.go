package clusterconfig

import (
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"

	rayv1 "github.com/loykin/ray-operator/api/v1"
)

var defaultHeadServicePorts = []rayv1.HeadServicePort{
	{Name: "client", Port: 10001},
	{Name: "dashboard", Port: 8265},
}

// FromRayCluster builds the autoscaler config for a RayCluster resource.
// Every node config and the head service carry an owner reference to the
// resource so that deleting it garbage-collects the cluster's pods.
func FromRayCluster(rc *rayv1.RayCluster) (Document, error) {
	if rc == nil {
		return nil, fmt.Errorf("nil RayCluster")
	}
	spec := rc.Spec
	ref := metav1.NewControllerRef(rc, rayv1.GroupVersion.WithKind("RayCluster"))
	owner, err := runtime.DefaultUnstructuredConverter.ToUnstructured(ref)
	if err != nil {
		return nil, fmt.Errorf("owner reference: %w", err)
	}

	nodeTypes := make(map[string]any, len(spec.PodTypes))
	for _, pt := range spec.PodTypes {
		if pt.Name == "" {
			return nil, fmt.Errorf("pod type without a name")
		}
		if _, dup := nodeTypes[pt.Name]; dup {
			return nil, fmt.Errorf("duplicate pod type %q", pt.Name)
		}
		nt, err := nodeType(pt, owner)
		if err != nil {
			return nil, fmt.Errorf("pod type %q: %w", pt.Name, err)
		}
		nodeTypes[pt.Name] = nt
	}
	if _, ok := nodeTypes[spec.HeadPodType]; !ok {
		return nil, fmt.Errorf("head pod type %q is not one of the pod types", spec.HeadPodType)
	}

	svc, err := headService(rc.Name, spec.HeadServicePorts, *ref)
	if err != nil {
		return nil, err
	}

	doc := map[string]any{
		"cluster_name":         rc.Name,
		"head_node_type":       spec.HeadPodType,
		"available_node_types": nodeTypes,
		"provider": map[string]any{
			"type":             "kubernetes",
			"use_internal_ips": true,
			"namespace":        rc.Namespace,
			"_operator":        true,
			"services":         []any{svc},
		},
		"auth":                      map[string]any{},
		"file_mounts":               orEmpty(spec.FileMounts),
		"head_start_ray_commands":   orEmptySlice(spec.HeadStartRayCommands),
		"worker_start_ray_commands": orEmptySlice(spec.WorkerStartRayCommands),
		"head_setup_commands":       orEmptySlice(spec.HeadSetupCommands),
		"worker_setup_commands":     orEmptySlice(spec.WorkerSetupCommands),
		"setup_commands":            orEmptySlice(spec.SetupCommands),
	}
	if spec.MaxWorkers != nil {
		doc["max_workers"] = *spec.MaxWorkers
	}
	if spec.UpscalingSpeed != nil {
		doc["upscaling_speed"] = *spec.UpscalingSpeed
	}
	if spec.IdleTimeoutMinutes != nil {
		doc["idle_timeout_minutes"] = *spec.IdleTimeoutMinutes
	}
	return normalize(doc)
}

func nodeType(pt rayv1.PodTypeSpec, owner map[string]any) (map[string]any, error) {
	nodeConfig := map[string]any{}
	if len(pt.PodConfig.Raw) > 0 {
		if err := json.Unmarshal(pt.PodConfig.Raw, &nodeConfig); err != nil {
			return nil, fmt.Errorf("podConfig: %w", err)
		}
	}
	meta, _ := nodeConfig["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["ownerReferences"] = []any{owner}
	nodeConfig["metadata"] = meta

	resources := map[string]any{}
	for k, v := range pt.RayResources {
		resources[k] = v
	}
	nt := map[string]any{
		"node_config": nodeConfig,
		"resources":   resources,
	}
	if pt.MinWorkers != nil {
		nt["min_workers"] = *pt.MinWorkers
	}
	if pt.MaxWorkers != nil {
		nt["max_workers"] = *pt.MaxWorkers
	}
	if len(pt.SetupCommands) > 0 {
		nt["worker_setup_commands"] = pt.SetupCommands
	}
	return nt, nil
}

func headService(clusterName string, ports []rayv1.HeadServicePort, owner metav1.OwnerReference) (map[string]any, error) {
	if len(ports) == 0 {
		ports = defaultHeadServicePorts
	}
	selector := clusterName + "-ray-head"
	svc := &corev1.Service{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{
			Name:            selector,
			OwnerReferences: []metav1.OwnerReference{owner},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"component": selector},
		},
	}
	for _, p := range ports {
		svc.Spec.Ports = append(svc.Spec.Ports, corev1.ServicePort{
			Name:       p.Name,
			Protocol:   corev1.ProtocolTCP,
			Port:       p.Port,
			TargetPort: intstr.FromInt32(p.Port),
		})
	}
	u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(svc)
	if err != nil {
		return nil, fmt.Errorf("head service: %w", err)
	}
	delete(u, "status")
	unstructured.RemoveNestedField(u, "metadata", "creationTimestamp")
	return u, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
