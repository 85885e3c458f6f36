package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// Phase is the lifecycle phase the operator reports in status.phase.
// +kubebuilder:validation:Enum=Updating;Running;AutoscalingException
type Phase string

const (
	PhaseUpdating             Phase = "Updating"
	PhaseRunning              Phase = "Running"
	PhaseAutoscalingException Phase = "AutoscalingException"
)

// RayClusterSpec defines the desired state of a Ray cluster.
type RayClusterSpec struct {
	// MaxWorkers caps the number of worker nodes across all pod types.
	// +optional
	MaxWorkers *int32 `json:"maxWorkers,omitempty"`

	// UpscalingSpeed bounds the number of nodes pending at once, as a multiple of the current size.
	// +optional
	UpscalingSpeed *float64 `json:"upscalingSpeed,omitempty"`

	// IdleTimeoutMinutes is the time a worker must be idle before it is removed.
	// +optional
	IdleTimeoutMinutes *int32 `json:"idleTimeoutMinutes,omitempty"`

	// HeadPodType names the entry of PodTypes used for the head node.
	// +kubebuilder:validation:MinLength=1
	HeadPodType string `json:"headPodType"`

	// +kubebuilder:validation:MinItems=1
	PodTypes []PodTypeSpec `json:"podTypes"`

	// +optional
	HeadStartRayCommands []string `json:"headStartRayCommands,omitempty"`
	// +optional
	WorkerStartRayCommands []string `json:"workerStartRayCommands,omitempty"`
	// +optional
	HeadSetupCommands []string `json:"headSetupCommands,omitempty"`
	// +optional
	WorkerSetupCommands []string `json:"workerSetupCommands,omitempty"`
	// +optional
	SetupCommands []string `json:"setupCommands,omitempty"`

	// FileMounts maps remote paths to local paths copied onto every node.
	// +optional
	FileMounts map[string]string `json:"fileMounts,omitempty"`

	// HeadServicePorts overrides the ports exposed by the head service.
	// +optional
	HeadServicePorts []HeadServicePort `json:"headServicePorts,omitempty"`
}

// PodTypeSpec describes one kind of node the autoscaler may launch.
type PodTypeSpec struct {
	Name string `json:"name"`

	// +optional
	MinWorkers *int32 `json:"minWorkers,omitempty"`
	// +optional
	MaxWorkers *int32 `json:"maxWorkers,omitempty"`

	// RayResources overrides the resources Ray advertises for this node type.
	// +optional
	RayResources map[string]int64 `json:"rayResources,omitempty"`

	// SetupCommands run on workers of this type before Ray starts.
	// +optional
	SetupCommands []string `json:"setupCommands,omitempty"`

	// PodConfig is the pod manifest used for nodes of this type.
	// +kubebuilder:pruning:PreserveUnknownFields
	// +kubebuilder:validation:Schemaless
	PodConfig runtime.RawExtension `json:"podConfig"`
}

type HeadServicePort struct {
	Name string `json:"name"`
	Port int32  `json:"port"`
}

// RayClusterStatus defines the observed state of a Ray cluster.
type RayClusterStatus struct {
	// +optional
	Phase Phase `json:"phase,omitempty"`

	// AutoscalerRetries counts autoscaler failures. Each increment makes the
	// operator restart the cluster's autoscaling process.
	// +optional
	AutoscalerRetries int32 `json:"autoscalerRetries,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=rc
// +kubebuilder:printcolumn:name="Status",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Restarts",type=integer,JSONPath=`.status.autoscalerRetries`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// RayCluster is the Schema for the rayclusters API.
type RayCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RayClusterSpec   `json:"spec,omitempty"`
	Status RayClusterStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// RayClusterList contains a list of RayCluster.
type RayClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []RayCluster `json:"items"`
}

func init() {
	SchemeBuilder.Register(&RayCluster{}, &RayClusterList{})
}
