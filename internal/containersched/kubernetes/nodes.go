package kubernetes

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// CordonNode marks a Kubernetes node unschedulable. Adapted from the
// teacher's internal/nodes NodeManager.CordonNode; invoked by
// cmd/k8s-scheduler when it receives a NodeCordonEvent from the node
// reconciliation loop (spec §4.5).
func (a *Adapter) CordonNode(ctx context.Context, nodeName string) error {
	node, err := a.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get node %s: %w", nodeName, err)
	}
	node.Spec.Unschedulable = true
	if _, err := a.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to cordon node %s: %w", nodeName, err)
	}
	return nil
}

// UncordonNode reverses CordonNode.
func (a *Adapter) UncordonNode(ctx context.Context, nodeName string) error {
	node, err := a.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get node %s: %w", nodeName, err)
	}
	node.Spec.Unschedulable = false
	if _, err := a.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to uncordon node %s: %w", nodeName, err)
	}
	return nil
}

// DrainNode cordons nodeName and evicts every non-DaemonSet pod on it
// ahead of maintenance, adapted from the teacher's NodeManager.DrainNode.
func (a *Adapter) DrainNode(ctx context.Context, nodeName string, gracePeriodSeconds int64) error {
	if err := a.CordonNode(ctx, nodeName); err != nil {
		return err
	}

	pods, err := a.clientset.CoreV1().Pods("").List(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("spec.nodeName=%s", nodeName),
	})
	if err != nil {
		return fmt.Errorf("failed to list pods on node %s: %w", nodeName, err)
	}

	for _, pod := range pods.Items {
		if isDaemonSetPod(&pod) {
			continue
		}
		grace := gracePeriodSeconds
		if err := a.clientset.CoreV1().Pods(pod.Namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{
			GracePeriodSeconds: &grace,
		}); err != nil {
			return fmt.Errorf("failed to evict pod %s/%s: %w", pod.Namespace, pod.Name, err)
		}
	}
	return nil
}

func isDaemonSetPod(pod *corev1.Pod) bool {
	for _, owner := range pod.OwnerReferences {
		if owner.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}
