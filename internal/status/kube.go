package status

import (
	"context"
	"time"

	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	rayv1 "github.com/loykin/ray-operator/api/v1"
)

// KubeWriter writes status.phase through the API server. Writing
// AutoscalingException also increments status.autoscalerRetries, which
// produces the update event that restarts the cluster's task.
type KubeWriter struct {
	Client  client.Client
	Timeout time.Duration
}

func (w *KubeWriter) Write(ctx context.Context, it Item) (rayv1.RayClusterStatus, error) {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	var out rayv1.RayClusterStatus
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var rc rayv1.RayCluster
		if err := w.Client.Get(ctx, it.ID.NamespacedName(), &rc); err != nil {
			return err
		}
		rc.Status.Phase = it.Phase
		if it.Phase == rayv1.PhaseAutoscalingException {
			rc.Status.AutoscalerRetries++
		}
		if err := w.Client.Status().Update(ctx, &rc); err != nil {
			return err
		}
		out = rc.Status
		return nil
	})
	return out, err
}
