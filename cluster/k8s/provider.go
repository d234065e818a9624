package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	coordclient "k8s.io/client-go/kubernetes/typed/coordination/v1"
	coreclient "k8s.io/client-go/kubernetes/typed/core/v1"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/id"
)

// Compile-time check that Provider implements cluster.Store.
var _ cluster.Store = (*Provider)(nil)

const (
	defaultLeaseName        = "pulse-leader"
	defaultLabelSelector    = "app.kubernetes.io/component=pulse-worker"
	defaultAnnotationPrefix = "pulse.pulseai.dev/"
)

// Provider implements cluster.Store using Kubernetes primitives:
//   - Worker discovery via Pod annotations and label selectors
//   - Leader election via the coordination/v1 Lease API
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leaseName        string
	labelSelector    string
	annotationPrefix string
	logger           *slog.Logger
}

// New creates a Kubernetes cluster provider.
// The clientset and namespace are required. Use functional options to
// customise the lease name, label selector, annotation prefix, or logger.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leaseName:        defaultLeaseName,
		labelSelector:    defaultLabelSelector,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Worker registration (Pod annotations)
// ──────────────────────────────────────────────────

// pods shortens the core client chain.
func (p *Provider) pods() coreclient.PodInterface {
	return p.client.CoreV1().Pods(p.namespace)
}

// mutateWorkerPod locates the worker's Pod, applies fn, and writes the
// Pod back.
func (p *Provider) mutateWorkerPod(ctx context.Context, workerID id.WorkerID, fn func(*corev1.Pod)) error {
	pod, err := p.podForWorker(ctx, workerID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return pulse.ErrWorkerNotFound
	}

	fn(pod)
	if _, err := p.pods().Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: update pod %q: %w", pod.Name, err)
	}
	return nil
}

// RegisterWorker stores worker metadata as annotations on the worker's Pod.
// The Pod is located by matching the worker's Hostname to the Pod name,
// which holds under the default downward-API hostname of a Pod.
func (p *Provider) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	pod, err := p.pods().Get(ctx, w.Hostname, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("k8s: pod %q not found: %w", w.Hostname, pulse.ErrWorkerNotFound)
		}
		return fmt.Errorf("k8s: register worker get pod: %w", err)
	}

	if pod.Annotations == nil {
		pod.Annotations = make(map[string]string)
	}
	p.annotateWorker(pod, w)

	if _, err := p.pods().Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: register worker update pod: %w", err)
	}
	return nil
}

// DeregisterWorker removes pulse annotations from the worker's Pod.
func (p *Provider) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	return p.mutateWorkerPod(ctx, workerID, func(pod *corev1.Pod) {
		for _, key := range annotationKeys {
			delete(pod.Annotations, p.annotationPrefix+key)
		}
	})
}

// HeartbeatWorker updates the last-seen annotation on the worker's Pod.
func (p *Provider) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	return p.mutateWorkerPod(ctx, workerID, func(pod *corev1.Pod) {
		pod.Annotations[p.annotationPrefix+"last-seen"] = time.Now().UTC().Format(time.RFC3339Nano)
	})
}

// ListWorkers returns all registered engine workers by scanning Pod
// annotations under the label selector.
func (p *Provider) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	pods, err := p.pods().List(ctx, metav1.ListOptions{LabelSelector: p.labelSelector})
	if err != nil {
		return nil, fmt.Errorf("k8s: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(pods.Items))
	for i := range pods.Items {
		w, convErr := p.workerFromPod(&pods.Items[i])
		if convErr != nil {
			continue // pod has no/invalid pulse annotations
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen annotation is older than
// the given threshold.
func (p *Provider) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	all, err := p.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range all {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// ──────────────────────────────────────────────────
// Leadership (Lease API)
// ──────────────────────────────────────────────────

// leases shortens the coordination client chain.
func (p *Provider) leases() coordclient.LeaseInterface {
	return p.client.CoordinationV1().Leases(p.namespace)
}

// stampHolder writes the holder identity and timing fields onto a lease
// spec. acquired also resets AcquireTime, marking a change of holder.
func stampHolder(spec *coordinationv1.LeaseSpec, holder string, ttl time.Duration, acquired bool) {
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := int32(ttl.Seconds())

	spec.HolderIdentity = &holder
	spec.LeaseDurationSeconds = &ttlSec
	spec.RenewTime = &now
	if acquired {
		spec.AcquireTime = &now
	}
}

// AcquireLeadership attempts to become the scheduler leader using the
// coordination/v1 Lease API. It succeeds when no lease exists, when the
// current lease has expired, or when this worker already holds it.
func (p *Provider) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	lease, err := p.leases().Get(ctx, p.leaseName, metav1.GetOptions{})
	switch {
	case errors.IsNotFound(err):
		lease = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: p.leaseName, Namespace: p.namespace},
		}
		stampHolder(&lease.Spec, wID, ttl, true)
		if _, err := p.leases().Create(ctx, lease, metav1.CreateOptions{}); err != nil {
			if errors.IsAlreadyExists(err) {
				return false, nil // lost the creation race
			}
			return false, fmt.Errorf("k8s: create lease: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("k8s: get lease: %w", err)
	case heldByOther(lease, wID):
		return false, nil
	}

	stampHolder(&lease.Spec, wID, ttl, true)
	if _, err := p.leases().Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return false, fmt.Errorf("k8s: update lease (acquire): %w", err)
	}
	return true, nil
}

// RenewLeadership extends the leader's hold. Only the current holder can
// renew; anyone else must go through AcquireLeadership.
func (p *Provider) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	lease, err := p.leases().Get(ctx, p.leaseName, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("k8s: renew get lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != wID {
		return false, nil
	}

	stampHolder(&lease.Spec, wID, ttl, false)
	if _, err := p.leases().Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return false, fmt.Errorf("k8s: renew update lease: %w", err)
	}
	return true, nil
}

// GetLeader returns the current scheduler leader from the Lease, or nil
// when no unexpired lease is held.
func (p *Provider) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	lease, err := p.leases().Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("k8s: get leader lease: %w", err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return nil, nil
	}
	if leaseExpired(lease) {
		return nil, nil
	}

	pod, err := p.podForWorker(ctx, *lease.Spec.HolderIdentity)
	if err != nil || pod == nil {
		// The holder's Pod is gone; surface a minimal leader record.
		wID, parseErr := id.ParseWorkerID(*lease.Spec.HolderIdentity)
		if parseErr != nil {
			return nil, nil
		}
		return &cluster.Worker{
			ID:       wID,
			IsLeader: true,
		}, nil
	}

	w, err := p.workerFromPod(pod)
	if err != nil {
		return nil, nil
	}
	w.IsLeader = true
	return w, nil
}

// ──────────────────────────────────────────────────
// Annotation codec
// ──────────────────────────────────────────────────

// annotationKeys lists every worker annotation the provider manages,
// without the prefix.
var annotationKeys = []string{
	"worker-id", "hostname", "concurrency", "state",
	"last-seen", "created-at", "is-leader", "metadata",
	"leader-until",
}

// annotateWorker writes all worker fields as Pod annotations.
func (p *Provider) annotateWorker(pod *corev1.Pod, w *cluster.Worker) {
	a := pod.Annotations
	prefix := p.annotationPrefix

	a[prefix+"worker-id"] = w.ID.String()
	a[prefix+"hostname"] = w.Hostname
	a[prefix+"concurrency"] = strconv.Itoa(w.Concurrency)
	a[prefix+"state"] = string(w.State)
	a[prefix+"last-seen"] = w.LastSeen.Format(time.RFC3339Nano)
	a[prefix+"created-at"] = w.CreatedAt.Format(time.RFC3339Nano)
	a[prefix+"is-leader"] = strconv.FormatBool(w.IsLeader)

	if len(w.Metadata) > 0 {
		b, _ := json.Marshal(w.Metadata) //nolint:errcheck // marshal of map[string]string does not fail
		a[prefix+"metadata"] = string(b)
	}
	if w.LeaderUntil != nil {
		a[prefix+"leader-until"] = w.LeaderUntil.Format(time.RFC3339Nano)
	}
}

// workerFromPod converts Pod annotations to a cluster.Worker.
func (p *Provider) workerFromPod(pod *corev1.Pod) (*cluster.Worker, error) {
	prefix := p.annotationPrefix
	a := pod.Annotations

	rawID := a[prefix+"worker-id"]
	if rawID == "" {
		return nil, fmt.Errorf("k8s: pod %q missing worker-id annotation", pod.Name)
	}

	wID, err := id.ParseWorkerID(rawID)
	if err != nil {
		return nil, fmt.Errorf("k8s: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(a[prefix+"concurrency"])              //nolint:errcheck // best-effort parse
	lastSeen, _ := time.Parse(time.RFC3339Nano, a[prefix+"last-seen"])   //nolint:errcheck // best-effort parse
	createdAt, _ := time.Parse(time.RFC3339Nano, a[prefix+"created-at"]) //nolint:errcheck // best-effort parse

	w := &cluster.Worker{
		ID:          wID,
		Hostname:    a[prefix+"hostname"],
		Concurrency: concurrency,
		State:       cluster.WorkerState(a[prefix+"state"]),
		IsLeader:    a[prefix+"is-leader"] == "true",
		LastSeen:    lastSeen,
		CreatedAt:   createdAt,
	}

	if m := a[prefix+"metadata"]; m != "" {
		meta := make(map[string]string)
		if uErr := json.Unmarshal([]byte(m), &meta); uErr == nil {
			w.Metadata = meta
		}
	}
	if v := a[prefix+"leader-until"]; v != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, v)
		if parseErr == nil {
			w.LeaderUntil = &t
		}
	}

	return w, nil
}

// podForWorker scans pods under the label selector for one whose
// worker-id annotation matches.
func (p *Provider) podForWorker(ctx context.Context, workerID string) (*corev1.Pod, error) {
	pods, err := p.pods().List(ctx, metav1.ListOptions{LabelSelector: p.labelSelector})
	if err != nil {
		return nil, fmt.Errorf("k8s: find pod by worker id: %w", err)
	}

	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Annotations[p.annotationPrefix+"worker-id"] == workerID {
			return pod, nil
		}
	}
	return nil, nil
}

// heldByOther reports whether the lease is held by a different worker
// and has not expired.
func heldByOther(lease *coordinationv1.Lease, myID string) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return false // no holder
	}
	if *lease.Spec.HolderIdentity == myID {
		return false // we hold it
	}
	return !leaseExpired(lease)
}

// leaseExpired reports whether the lease's renew time plus duration is in
// the past.
func leaseExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	renewTime := lease.Spec.RenewTime.Time
	dur := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return time.Now().UTC().After(renewTime.Add(dur))
}
