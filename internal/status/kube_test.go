package status

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	rayv1 "github.com/loykin/ray-operator/api/v1"
	"github.com/loykin/ray-operator/internal/cluster"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	s := runtime.NewScheme()
	require.NoError(t, rayv1.AddToScheme(s))
	return s
}

func sampleCluster() *rayv1.RayCluster {
	return &rayv1.RayCluster{
		ObjectMeta: metav1.ObjectMeta{Name: "demo", Namespace: "ray", Generation: 1},
		Spec:       rayv1.RayClusterSpec{HeadPodType: "head"},
	}
}

func TestKubeWriterSetsPhaseAndBumpsRetries(t *testing.T) {
	c := fake.NewClientBuilder().
		WithScheme(newScheme(t)).
		WithObjects(sampleCluster()).
		WithStatusSubresource(&rayv1.RayCluster{}).
		Build()
	w := &KubeWriter{Client: c}
	id := cluster.ID{Name: "demo", Namespace: "ray"}
	ctx := context.Background()

	st, err := w.Write(ctx, Item{ID: id, Phase: rayv1.PhaseUpdating})
	require.NoError(t, err)
	assert.Equal(t, rayv1.PhaseUpdating, st.Phase)
	assert.Zero(t, st.AutoscalerRetries)

	st, err = w.Write(ctx, Item{ID: id, Phase: rayv1.PhaseAutoscalingException})
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.AutoscalerRetries)

	_, err = w.Write(ctx, Item{ID: id, Phase: rayv1.PhaseAutoscalingException})
	require.NoError(t, err)

	var got rayv1.RayCluster
	require.NoError(t, c.Get(ctx, id.NamespacedName(), &got))
	assert.Equal(t, rayv1.PhaseAutoscalingException, got.Status.Phase)
	assert.EqualValues(t, 2, got.Status.AutoscalerRetries)
	assert.EqualValues(t, 1, got.Generation, "status writes must not bump generation")
}

func TestKubeWriterRetriesOnConflict(t *testing.T) {
	conflicts := 0
	c := fake.NewClientBuilder().
		WithScheme(newScheme(t)).
		WithObjects(sampleCluster()).
		WithStatusSubresource(&rayv1.RayCluster{}).
		WithInterceptorFuncs(interceptor.Funcs{
			SubResourceUpdate: func(ctx context.Context, c client.Client, sub string, obj client.Object, opts ...client.SubResourceUpdateOption) error {
				if conflicts < 2 {
					conflicts++
					return apierrors.NewConflict(schema.GroupResource{Group: "cluster.ray.io", Resource: "rayclusters"}, obj.GetName(), errors.New("stale"))
				}
				return c.SubResource(sub).Update(ctx, obj, opts...)
			},
		}).
		Build()

	w := &KubeWriter{Client: c}
	st, err := w.Write(context.Background(), Item{ID: cluster.ID{Name: "demo", Namespace: "ray"}, Phase: rayv1.PhaseAutoscalingException})
	require.NoError(t, err)
	assert.Equal(t, 2, conflicts)
	assert.EqualValues(t, 1, st.AutoscalerRetries, "retries must be bumped once, not per attempt")
}

func TestKubeWriterMissingCluster(t *testing.T) {
	c := fake.NewClientBuilder().WithScheme(newScheme(t)).WithStatusSubresource(&rayv1.RayCluster{}).Build()
	w := &KubeWriter{Client: c}
	_, err := w.Write(context.Background(), Item{ID: cluster.ID{Name: "gone", Namespace: "ray"}, Phase: rayv1.PhaseRunning})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestReporterWithKubeWriter(t *testing.T) {
	c := fake.NewClientBuilder().
		WithScheme(newScheme(t)).
		WithObjects(sampleCluster()).
		WithStatusSubresource(&rayv1.RayCluster{}).
		Build()
	r := NewReporter(&KubeWriter{Client: c}, nil, nil)
	r.Start()
	id := cluster.ID{Name: "demo", Namespace: "ray"}
	r.Enqueue(id, rayv1.PhaseUpdating)
	r.Enqueue(id, rayv1.PhaseAutoscalingException)
	r.Enqueue(id, rayv1.PhaseRunning)
	r.Enqueue(cluster.ID{Name: "missing", Namespace: "ray"}, rayv1.PhaseRunning)
	r.Stop()

	var got rayv1.RayCluster
	require.NoError(t, c.Get(context.Background(), id.NamespacedName(), &got))
	assert.Equal(t, rayv1.PhaseRunning, got.Status.Phase)
	assert.EqualValues(t, 1, got.Status.AutoscalerRetries)
}
