package reconcile

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	crreconcile "sigs.k8s.io/controller-runtime/pkg/reconcile"

	rayv1 "github.com/loykin/ray-operator/api/v1"
	"github.com/loykin/ray-operator/internal/autoscaler"
	"github.com/loykin/ray-operator/internal/autoscaler/fake"
	"github.com/loykin/ray-operator/internal/cluster"
	"github.com/loykin/ray-operator/internal/clusterconfig"
	"github.com/loykin/ray-operator/internal/registry"
	"github.com/loykin/ray-operator/internal/supervisor"
)

type statusItem struct {
	id    cluster.ID
	phase rayv1.Phase
}

type recordingQueue struct {
	mu    sync.Mutex
	items []statusItem
}

func (q *recordingQueue) Enqueue(id cluster.ID, phase rayv1.Phase) {
	q.mu.Lock()
	q.items = append(q.items, statusItem{id, phase})
	q.mu.Unlock()
}

func (q *recordingQueue) reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *recordingQueue) phases() []rayv1.Phase {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]rayv1.Phase, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.phase)
	}
	return out
}

type crashingMonitor struct{}

func (crashingMonitor) Run(context.Context) error { return errors.New("connection refused") }

func newRayCluster(name string, generation int64, retries int32) *rayv1.RayCluster {
	return &rayv1.RayCluster{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ray", Generation: generation},
		Spec: rayv1.RayClusterSpec{
			HeadPodType: "head-node",
			PodTypes: []rayv1.PodTypeSpec{
				{Name: "head-node", PodConfig: runtime.RawExtension{Raw: []byte(`{"apiVersion":"v1","kind":"Pod"}`)}},
				{Name: "worker-node", PodConfig: runtime.RawExtension{Raw: []byte(`{"apiVersion":"v1","kind":"Pod"}`)}},
			},
			HeadStartRayCommands: []string{"ray stop", "ray start --head --port=6379"},
		},
		Status: rayv1.RayClusterStatus{AutoscalerRetries: retries},
	}
}

var _ = Describe("Handlers", func() {
	var (
		ctx      context.Context
		reg      *registry.Registry
		prov     *fake.Provisioner
		monitors *fake.Monitors
		queue    *recordingQueue
		handlers *Handlers
		root     string
		id       cluster.ID
	)

	BeforeEach(func() {
		ctx = context.Background()
		reg = registry.New()
		prov = &fake.Provisioner{}
		monitors = fake.NewMonitors()
		queue = &recordingQueue{}
		root = GinkgoT().TempDir()
		id = cluster.ID{Name: "example-cluster", Namespace: "ray"}
		handlers = New(reg, supervisor.Deps{
			Paths:       clusterconfig.Paths{Root: root},
			Provisioner: prov,
			NewMonitor:  monitors.Factory(),
			Status:      queue,
		})
		DeferCleanup(func() {
			Expect(reg.StopAll(context.Background())).To(Succeed())
		})
	})

	configPath := func() string {
		p, err := clusterconfig.Paths{Root: root}.ConfigPath(id)
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	Context("create", func() {
		It("registers the cluster and reports Updating then Running", func() {
			Expect(handlers.OnCreate(ctx, newRayCluster("example-cluster", 1, 0), false)).To(Succeed())

			Expect(queue.phases()).To(Equal([]rayv1.Phase{rayv1.PhaseUpdating, rayv1.PhaseRunning}))
			Expect(reg.Get(id)).NotTo(BeNil())
			Expect(configPath()).To(BeAnExistingFile())
			Expect(monitors.WaitStarted(1, 2*time.Second)).To(BeTrue())
			Expect(prov.Calls()).To(HaveLen(1))
			Expect(prov.Calls()[0].NoRestart).To(BeTrue())
		})

		It("rejects an embedded redis password without registering", func() {
			rc := newRayCluster("example-cluster", 1, 0)
			rc.Spec.HeadStartRayCommands = []string{"ray start --head --redis-password=secret"}

			err := handlers.OnCreate(ctx, rc, false)
			Expect(errors.Is(err, clusterconfig.ErrRedisPasswordSpecified)).To(BeTrue())
			Expect(errors.Is(err, crreconcile.TerminalError(nil))).To(BeTrue())
			Expect(reg.Get(id)).To(BeNil())
			Expect(queue.phases()).To(BeEmpty())
			Expect(configPath()).NotTo(BeAnExistingFile())
		})

		It("replaces a duplicate create without leaving two monitors", func() {
			Expect(handlers.OnCreate(ctx, newRayCluster("example-cluster", 1, 0), true)).To(Succeed())
			Expect(monitors.WaitStarted(1, 2*time.Second)).To(BeTrue())
			Expect(handlers.OnCreate(ctx, newRayCluster("example-cluster", 1, 0), true)).To(Succeed())
			Expect(monitors.WaitStarted(2, 2*time.Second)).To(BeTrue())
			Expect(monitors.MaxLive()).To(Equal(1))
			Expect(reg.Len()).To(Equal(1))
		})
	})

	Context("update", func() {
		BeforeEach(func() {
			Expect(handlers.OnCreate(ctx, newRayCluster("example-cluster", 1, 0), false)).To(Succeed())
			Expect(monitors.WaitStarted(1, 2*time.Second)).To(BeTrue())
		})

		It("ignores updates that change neither generation nor retries", func() {
			old := newRayCluster("example-cluster", 1, 0)
			cur := newRayCluster("example-cluster", 1, 0)
			cur.Status.Phase = rayv1.PhaseRunning

			Expect(handlers.OnUpdate(ctx, old, cur)).To(Succeed())
			Expect(queue.phases()).To(HaveLen(2))
			Expect(prov.Calls()).To(HaveLen(1))
			Expect(monitors.Started()).To(Equal(1))
		})

		It("treats a lower generation as inert", func() {
			Expect(handlers.OnUpdate(ctx, newRayCluster("example-cluster", 3, 2), newRayCluster("example-cluster", 2, 1))).To(Succeed())
			Expect(prov.Calls()).To(HaveLen(1))
		})

		It("relaunches without restart on a generation bump", func() {
			cur := newRayCluster("example-cluster", 2, 0)
			workers := int32(7)
			cur.Spec.MaxWorkers = &workers

			Expect(handlers.OnUpdate(ctx, newRayCluster("example-cluster", 1, 0), cur)).To(Succeed())

			Expect(queue.phases()).To(Equal([]rayv1.Phase{
				rayv1.PhaseUpdating, rayv1.PhaseRunning,
				rayv1.PhaseUpdating, rayv1.PhaseRunning,
			}))
			calls := prov.Calls()
			Expect(calls).To(HaveLen(2))
			Expect(calls[1].NoRestart).To(BeTrue())
			Expect(monitors.WaitStarted(2, 2*time.Second)).To(BeTrue())
			Expect(monitors.MaxLive()).To(Equal(1))

			doc, err := clusterconfig.Read(configPath())
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["max_workers"]).To(BeEquivalentTo(7))
		})

		It("relaunches with restart on a retry bump", func() {
			Expect(handlers.OnUpdate(ctx, newRayCluster("example-cluster", 1, 0), newRayCluster("example-cluster", 1, 1))).To(Succeed())

			calls := prov.Calls()
			Expect(calls).To(HaveLen(2))
			Expect(calls[1].NoRestart).To(BeFalse())
			Expect(queue.phases()[2:]).To(Equal([]rayv1.Phase{rayv1.PhaseUpdating, rayv1.PhaseRunning}))
		})

		It("rejects a redis password on update and keeps the running task", func() {
			cur := newRayCluster("example-cluster", 2, 0)
			cur.Spec.HeadStartRayCommands = []string{"ray start --head --redis-password x"}

			err := handlers.OnUpdate(ctx, newRayCluster("example-cluster", 1, 0), cur)
			Expect(errors.Is(err, clusterconfig.ErrRedisPasswordSpecified)).To(BeTrue())
			Expect(queue.phases()).To(HaveLen(2))
			Expect(reg.Get(id).Alive()).To(BeTrue())
		})
	})

	It("creates a supervisor when an update arrives for an unknown cluster", func() {
		Expect(handlers.OnUpdate(ctx, newRayCluster("example-cluster", 1, 0), newRayCluster("example-cluster", 2, 0))).To(Succeed())
		Expect(reg.Get(id)).NotTo(BeNil())
		Expect(queue.phases()).To(Equal([]rayv1.Phase{rayv1.PhaseUpdating, rayv1.PhaseRunning}))
	})

	Context("provisioning failure", func() {
		It("reports AutoscalingException and recovers on the retry bump", func() {
			prov.FailWith(errors.New("ssh: connection refused"))

			Expect(handlers.OnCreate(ctx, newRayCluster("example-cluster", 1, 0), false)).To(Succeed())
			Expect(queue.phases()).To(Equal([]rayv1.Phase{rayv1.PhaseUpdating, rayv1.PhaseAutoscalingException}))
			Expect(reg.Get(id)).NotTo(BeNil())
			Eventually(reg.Get(id).Alive).Should(BeFalse())
			Expect(monitors.Started()).To(BeZero())

			prov.FailWith(nil)
			Expect(handlers.OnUpdate(ctx, newRayCluster("example-cluster", 1, 0), newRayCluster("example-cluster", 1, 1))).To(Succeed())
			Expect(queue.phases()).To(Equal([]rayv1.Phase{
				rayv1.PhaseUpdating, rayv1.PhaseAutoscalingException,
				rayv1.PhaseUpdating, rayv1.PhaseRunning,
			}))
			Expect(prov.Calls()[1].NoRestart).To(BeFalse())
			Expect(monitors.WaitStarted(1, 2*time.Second)).To(BeTrue())
		})

		It("reports Running before a monitor that exits immediately", func() {
			handlers = New(reg, supervisor.Deps{
				Paths:       clusterconfig.Paths{Root: root},
				Provisioner: prov,
				NewMonitor: func(autoscaler.MonitorOptions) (autoscaler.Monitor, error) {
					return crashingMonitor{}, nil
				},
				Status: queue,
			})
			for i := 0; i < 50; i++ {
				queue.reset()
				Expect(handlers.OnCreate(ctx, newRayCluster("example-cluster", 1, 0), false)).To(Succeed())
				Eventually(queue.phases).Should(Equal([]rayv1.Phase{
					rayv1.PhaseUpdating, rayv1.PhaseRunning, rayv1.PhaseAutoscalingException,
				}))
			}
		})

		It("reports a monitor crash through status", func() {
			Expect(handlers.OnCreate(ctx, newRayCluster("example-cluster", 1, 0), false)).To(Succeed())
			Expect(monitors.WaitStarted(1, 2*time.Second)).To(BeTrue())
			Expect(monitors.Fail(errors.New("head unreachable"))).To(BeTrue())
			Eventually(queue.phases).Should(Equal([]rayv1.Phase{
				rayv1.PhaseUpdating, rayv1.PhaseRunning, rayv1.PhaseAutoscalingException,
			}))
		})
	})

	Context("delete", func() {
		It("stops the task, removes the config and forgets the cluster", func() {
			Expect(handlers.OnCreate(ctx, newRayCluster("example-cluster", 1, 0), false)).To(Succeed())
			Expect(monitors.WaitStarted(1, 2*time.Second)).To(BeTrue())

			Expect(handlers.OnDelete(ctx, id)).To(Succeed())
			Expect(reg.Get(id)).To(BeNil())
			Expect(monitors.Live()).To(BeZero())
			_, err := os.Stat(configPath())
			Expect(os.IsNotExist(err)).To(BeTrue())
			Expect(queue.phases()).To(HaveLen(2))
		})

		It("is a no-op for unknown clusters", func() {
			Expect(handlers.OnDelete(ctx, id)).To(Succeed())
			Expect(handlers.OnDelete(ctx, id)).To(Succeed())
			Expect(reg.Len()).To(BeZero())
		})
	})
})
