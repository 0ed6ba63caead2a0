package kubectl

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// progressDeadlineExceeded is the condition reason the deployment
// controller sets once a rollout stops making progress.
const progressDeadlineExceeded = "ProgressDeadlineExceeded"

// Workload wraps the remote resource state returned by a Get query.
type Workload struct {
	kind        Kind
	deployment  *appsv1.Deployment
	statefulSet *appsv1.StatefulSet
}

// ParseWorkload decodes the JSON document kubectl printed for a workload
// resource.
func ParseWorkload(kind Kind, data []byte) (*Workload, error) {
	w := &Workload{kind: kind}
	switch kind {
	case KindDeployment:
		d := &appsv1.Deployment{}
		if err := json.Unmarshal(data, d); err != nil {
			return nil, errors.Wrap(err, "parsing deployment state")
		}
		w.deployment = d
	case KindStatefulSet:
		s := &appsv1.StatefulSet{}
		if err := json.Unmarshal(data, s); err != nil {
			return nil, errors.Wrap(err, "parsing statefulset state")
		}
		w.statefulSet = s
	default:
		return nil, errors.Errorf("resource kind %q is invalid (supported kinds: %v)", kind, SupportedKinds)
	}
	return w, nil
}

// ContainerImage returns the image currently set for the named container in
// the workload's pod template.
func (w *Workload) ContainerImage(name string) (string, bool) {
	for _, c := range w.containers() {
		if c.Name == name {
			return c.Image, true
		}
	}
	return "", false
}

func (w *Workload) containers() []corev1.Container {
	switch {
	case w.deployment != nil:
		return w.deployment.Spec.Template.Spec.Containers
	case w.statefulSet != nil:
		return w.statefulSet.Spec.Template.Spec.Containers
	}
	return nil
}

// RolloutState is a point-in-time reading of rollout progress. Stalled
// marks states the controller will never recover from on its own.
type RolloutState struct {
	Done    bool
	Stalled bool
	Message string
}

// RolloutState evaluates the same completion rules kubectl applies when it
// waits for a rollout, using the typed status fields instead of matching
// status text.
func (w *Workload) RolloutState() RolloutState {
	switch {
	case w.deployment != nil:
		return deploymentRolloutState(w.deployment)
	case w.statefulSet != nil:
		return statefulSetRolloutState(w.statefulSet)
	}
	return RolloutState{Message: "no workload state"}
}

func deploymentRolloutState(d *appsv1.Deployment) RolloutState {
	if d.Generation > d.Status.ObservedGeneration {
		return RolloutState{Message: "waiting for spec update to be observed"}
	}
	if cond := deploymentProgressing(d); cond != nil && cond.Reason == progressDeadlineExceeded {
		return RolloutState{Stalled: true, Message: fmt.Sprintf("deployment %q exceeded its progress deadline", d.Name)}
	}

	replicas := int32(1)
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	if d.Status.UpdatedReplicas < replicas {
		return RolloutState{Message: fmt.Sprintf("%d of %d new replicas have been updated", d.Status.UpdatedReplicas, replicas)}
	}
	if d.Status.Replicas > d.Status.UpdatedReplicas {
		return RolloutState{Message: fmt.Sprintf("%d old replicas are pending termination", d.Status.Replicas-d.Status.UpdatedReplicas)}
	}
	if d.Status.AvailableReplicas < d.Status.UpdatedReplicas {
		return RolloutState{Message: fmt.Sprintf("%d of %d updated replicas are available", d.Status.AvailableReplicas, d.Status.UpdatedReplicas)}
	}
	return RolloutState{Done: true, Message: fmt.Sprintf("deployment %q successfully rolled out", d.Name)}
}

func deploymentProgressing(d *appsv1.Deployment) *appsv1.DeploymentCondition {
	for i := range d.Status.Conditions {
		if d.Status.Conditions[i].Type == appsv1.DeploymentProgressing {
			return &d.Status.Conditions[i]
		}
	}
	return nil
}

func statefulSetRolloutState(s *appsv1.StatefulSet) RolloutState {
	if s.Spec.UpdateStrategy.Type != appsv1.RollingUpdateStatefulSetStrategyType {
		// Progress cannot be observed for on-delete updates.
		return RolloutState{Done: true, Message: fmt.Sprintf("statefulset %q uses an on-delete update strategy", s.Name)}
	}
	if s.Status.ObservedGeneration == 0 || s.Generation > s.Status.ObservedGeneration {
		return RolloutState{Message: "waiting for statefulset spec update to be observed"}
	}

	replicas := int32(1)
	if s.Spec.Replicas != nil {
		replicas = *s.Spec.Replicas
	}
	if s.Status.ReadyReplicas < replicas {
		return RolloutState{Message: fmt.Sprintf("%d of %d replicas are ready", s.Status.ReadyReplicas, replicas)}
	}
	if s.Spec.UpdateStrategy.RollingUpdate != nil && s.Spec.UpdateStrategy.RollingUpdate.Partition != nil {
		partition := *s.Spec.UpdateStrategy.RollingUpdate.Partition
		if s.Status.UpdatedReplicas < replicas-partition {
			return RolloutState{Message: fmt.Sprintf("%d of %d partitioned replicas have been updated", s.Status.UpdatedReplicas, replicas-partition)}
		}
		return RolloutState{Done: true, Message: fmt.Sprintf("partitioned roll out complete, %d new pods updated", s.Status.UpdatedReplicas)}
	}
	if s.Status.UpdateRevision != s.Status.CurrentRevision {
		return RolloutState{Message: fmt.Sprintf("waiting for rolling update to complete, %d pods at revision %s", s.Status.UpdatedReplicas, s.Status.UpdateRevision)}
	}
	return RolloutState{Done: true, Message: fmt.Sprintf("statefulset %q successfully rolled out", s.Name)}
}
