package k8s

import (
	"context"
	"errors"
	"testing"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/id"
)

const testNS = "default"

// newTestProvider creates a Provider backed by the fake K8s client, with
// the given pods pre-created. All pods get the pulse-worker label.
func newTestProvider(t *testing.T, pods ...*corev1.Pod) *Provider {
	t.Helper()
	cs := fake.NewClientset()
	for _, pod := range pods {
		if _, err := cs.CoreV1().Pods(testNS).Create(context.Background(), pod, metav1.CreateOptions{}); err != nil {
			t.Fatalf("create pod: %v", err)
		}
	}
	return New(cs, testNS)
}

func makeWorkerPod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNS,
			Labels: map[string]string{
				"app.kubernetes.io/component": "pulse-worker",
			},
			Annotations: make(map[string]string),
		},
	}
}

func makeWorker(hostname string) *cluster.Worker {
	now := time.Now().UTC()
	return &cluster.Worker{
		ID:          id.NewWorkerID(),
		Hostname:    hostname,
		Concurrency: 5,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		Metadata:    map[string]string{"zone": "us-east-1"},
		CreatedAt:   now,
	}
}

func register(t *testing.T, p *Provider, w *cluster.Worker) {
	t.Helper()
	if err := p.RegisterWorker(context.Background(), w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Worker registration
// ──────────────────────────────────────────────────

func TestRegisterWorker_WritesAnnotations(t *testing.T) {
	p := newTestProvider(t, makeWorkerPod("engine-pod-1"))
	w := makeWorker("engine-pod-1")
	register(t, p, w)

	pod, err := p.client.CoreV1().Pods(testNS).Get(context.Background(), "engine-pod-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}

	prefix := defaultAnnotationPrefix
	if got := pod.Annotations[prefix+"worker-id"]; got != w.ID.String() {
		t.Errorf("worker-id annotation = %q, want %q", got, w.ID.String())
	}
	if got := pod.Annotations[prefix+"state"]; got != "active" {
		t.Errorf("state annotation = %q, want active", got)
	}
	if got := pod.Annotations[prefix+"concurrency"]; got != "5" {
		t.Errorf("concurrency annotation = %q, want 5", got)
	}
}

func TestRegisterWorker_PodMissing(t *testing.T) {
	p := newTestProvider(t)
	err := p.RegisterWorker(context.Background(), makeWorker("nonexistent-pod"))
	if !errors.Is(err, pulse.ErrWorkerNotFound) {
		t.Fatalf("err = %v, want ErrWorkerNotFound", err)
	}
}

func TestDeregisterWorker_RemovesAnnotations(t *testing.T) {
	p := newTestProvider(t, makeWorkerPod("engine-pod-1"))
	w := makeWorker("engine-pod-1")
	register(t, p, w)

	if err := p.DeregisterWorker(context.Background(), w.ID); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}

	pod, err := p.client.CoreV1().Pods(testNS).Get(context.Background(), "engine-pod-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if got := pod.Annotations[defaultAnnotationPrefix+"worker-id"]; got != "" {
		t.Errorf("worker-id annotation survived deregistration: %q", got)
	}

	workers, err := p.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 0 {
		t.Errorf("ListWorkers after deregister = %d workers, want 0", len(workers))
	}
}

func TestHeartbeatWorker_UpdatesLastSeen(t *testing.T) {
	p := newTestProvider(t, makeWorkerPod("engine-pod-1"))
	w := makeWorker("engine-pod-1")
	w.LastSeen = time.Now().UTC().Add(-time.Hour)
	register(t, p, w)

	if err := p.HeartbeatWorker(context.Background(), w.ID); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}

	workers, err := p.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("ListWorkers = %d workers, want 1", len(workers))
	}
	if age := time.Since(workers[0].LastSeen); age > time.Minute {
		t.Errorf("LastSeen not refreshed, age %v", age)
	}
}

func TestHeartbeatWorker_Unknown(t *testing.T) {
	p := newTestProvider(t)
	err := p.HeartbeatWorker(context.Background(), id.NewWorkerID())
	if !errors.Is(err, pulse.ErrWorkerNotFound) {
		t.Fatalf("err = %v, want ErrWorkerNotFound", err)
	}
}

func TestListWorkers_RoundTripsMetadata(t *testing.T) {
	p := newTestProvider(t, makeWorkerPod("engine-pod-1"), makeWorkerPod("engine-pod-2"))
	w1 := makeWorker("engine-pod-1")
	w2 := makeWorker("engine-pod-2")
	register(t, p, w1)
	register(t, p, w2)

	workers, err := p.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("ListWorkers = %d workers, want 2", len(workers))
	}
	for _, w := range workers {
		if w.Metadata["zone"] != "us-east-1" {
			t.Errorf("worker %s metadata = %v", w.ID, w.Metadata)
		}
		if w.Concurrency != 5 {
			t.Errorf("worker %s concurrency = %d, want 5", w.ID, w.Concurrency)
		}
	}
}

func TestListWorkers_SkipsUnannotatedPods(t *testing.T) {
	p := newTestProvider(t, makeWorkerPod("engine-pod-1"), makeWorkerPod("bystander"))
	register(t, p, makeWorker("engine-pod-1"))

	workers, err := p.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 {
		t.Errorf("ListWorkers = %d workers, want 1", len(workers))
	}
}

func TestReapDeadWorkers(t *testing.T) {
	p := newTestProvider(t, makeWorkerPod("engine-pod-1"), makeWorkerPod("engine-pod-2"))

	stale := makeWorker("engine-pod-1")
	stale.LastSeen = time.Now().UTC().Add(-10 * time.Minute)
	fresh := makeWorker("engine-pod-2")
	register(t, p, stale)
	register(t, p, fresh)

	dead, err := p.ReapDeadWorkers(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("ReapDeadWorkers: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("ReapDeadWorkers = %d workers, want 1", len(dead))
	}
	if dead[0].ID.String() != stale.ID.String() {
		t.Errorf("reaped %s, want %s", dead[0].ID, stale.ID)
	}
}

// ──────────────────────────────────────────────────
// Leadership
// ──────────────────────────────────────────────────

func TestAcquireLeadership_CreatesLease(t *testing.T) {
	p := newTestProvider(t)
	wID := id.NewWorkerID()

	ok, err := p.AcquireLeadership(context.Background(), wID, 15*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership: %v", err)
	}
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	lease, err := p.client.CoordinationV1().Leases(testNS).Get(context.Background(), defaultLeaseName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get lease: %v", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != wID.String() {
		t.Errorf("lease holder = %v, want %s", lease.Spec.HolderIdentity, wID)
	}
}

func TestAcquireLeadership_HeldByOther(t *testing.T) {
	p := newTestProvider(t)
	holder := id.NewWorkerID()
	rival := id.NewWorkerID()

	if ok, err := p.AcquireLeadership(context.Background(), holder, 15*time.Second); err != nil || !ok {
		t.Fatalf("holder acquire: ok=%v err=%v", ok, err)
	}

	ok, err := p.AcquireLeadership(context.Background(), rival, 15*time.Second)
	if err != nil {
		t.Fatalf("rival AcquireLeadership: %v", err)
	}
	if ok {
		t.Fatal("rival acquired a live lease")
	}
}

func TestAcquireLeadership_TakesOverExpiredLease(t *testing.T) {
	p := newTestProvider(t)
	holder := id.NewWorkerID()
	rival := id.NewWorkerID()

	// A lease whose renew time is long past.
	old := metav1.NewMicroTime(time.Now().UTC().Add(-time.Hour))
	holderID := holder.String()
	ttlSec := int32(1)
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Name: defaultLeaseName, Namespace: testNS},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holderID,
			LeaseDurationSeconds: &ttlSec,
			AcquireTime:          &old,
			RenewTime:            &old,
		},
	}
	if _, err := p.client.CoordinationV1().Leases(testNS).Create(context.Background(), lease, metav1.CreateOptions{}); err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	ok, err := p.AcquireLeadership(context.Background(), rival, 15*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership: %v", err)
	}
	if !ok {
		t.Fatal("expired lease was not taken over")
	}
}

func TestAcquireLeadership_ReacquireOwn(t *testing.T) {
	p := newTestProvider(t)
	wID := id.NewWorkerID()

	for i := 0; i < 2; i++ {
		ok, err := p.AcquireLeadership(context.Background(), wID, 15*time.Second)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("acquire %d failed for current holder", i)
		}
	}
}

func TestRenewLeadership(t *testing.T) {
	p := newTestProvider(t)
	holder := id.NewWorkerID()
	rival := id.NewWorkerID()

	if ok, err := p.AcquireLeadership(context.Background(), holder, 15*time.Second); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	ok, err := p.RenewLeadership(context.Background(), holder, 15*time.Second)
	if err != nil {
		t.Fatalf("RenewLeadership: %v", err)
	}
	if !ok {
		t.Fatal("holder renew failed")
	}

	ok, err = p.RenewLeadership(context.Background(), rival, 15*time.Second)
	if err != nil {
		t.Fatalf("rival RenewLeadership: %v", err)
	}
	if ok {
		t.Fatal("non-holder renew succeeded")
	}
}

func TestRenewLeadership_NoLease(t *testing.T) {
	p := newTestProvider(t)
	ok, err := p.RenewLeadership(context.Background(), id.NewWorkerID(), 15*time.Second)
	if err != nil {
		t.Fatalf("RenewLeadership: %v", err)
	}
	if ok {
		t.Fatal("renew succeeded with no lease")
	}
}

func TestGetLeader(t *testing.T) {
	p := newTestProvider(t, makeWorkerPod("engine-pod-1"))
	w := makeWorker("engine-pod-1")
	register(t, p, w)

	// No lease yet.
	leader, err := p.GetLeader(context.Background())
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader != nil {
		t.Fatalf("leader = %+v before any acquire, want nil", leader)
	}

	if ok, acqErr := p.AcquireLeadership(context.Background(), w.ID, 15*time.Second); acqErr != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, acqErr)
	}

	leader, err = p.GetLeader(context.Background())
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader == nil {
		t.Fatal("no leader after acquire")
	}
	if leader.ID.String() != w.ID.String() {
		t.Errorf("leader = %s, want %s", leader.ID, w.ID)
	}
	if !leader.IsLeader {
		t.Error("leader record not marked IsLeader")
	}
	if leader.Hostname != "engine-pod-1" {
		t.Errorf("leader hostname = %q (pod annotations not joined)", leader.Hostname)
	}
}

func TestGetLeader_HolderPodGone(t *testing.T) {
	p := newTestProvider(t)
	wID := id.NewWorkerID()

	if ok, err := p.AcquireLeadership(context.Background(), wID, 15*time.Second); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	leader, err := p.GetLeader(context.Background())
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader == nil {
		t.Fatal("no leader")
	}
	// Minimal record: identity and leadership only.
	if leader.ID.String() != wID.String() || !leader.IsLeader {
		t.Errorf("leader = %+v, want minimal record for %s", leader, wID)
	}
}
