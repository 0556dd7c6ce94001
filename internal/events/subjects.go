package events

// NATS subject constants used for control-plane <-> container-scheduler-adapter
// dispatch. Format: sandboxctl.<domain>.<action>[.<runtime>]

const (
	// Session lifecycle dispatch (control plane -> adapter)
	SubjectSessionCreate    = "sandboxctl.session.create"
	SubjectSessionDelete    = "sandboxctl.session.delete"
	SubjectSessionHibernate = "sandboxctl.session.hibernate"
	SubjectSessionWake      = "sandboxctl.session.wake"

	// Session status (adapter -> control plane)
	SubjectSessionStatus   = "sandboxctl.session.status"
	SubjectContainerReady  = "sandboxctl.session.container_ready"
	SubjectContainerExited = "sandboxctl.session.container_exited"

	// Node management dispatch
	SubjectNodeCordon   = "sandboxctl.node.cordon"
	SubjectNodeUncordon = "sandboxctl.node.uncordon"
	SubjectNodeDrain    = "sandboxctl.node.drain"

	// Adapter health
	SubjectControllerHeartbeat = "sandboxctl.controller.heartbeat"

	// Dead letter queue prefix
	SubjectDLQPrefix = "sandboxctl.dlq"
)

// SubjectWithRuntime returns a runtime-specific subject.
// Example: SubjectWithRuntime(SubjectSessionCreate, RuntimeKubernetes)
// Returns: "sandboxctl.session.create.kubernetes"
func SubjectWithRuntime(subject, runtime string) string {
	return subject + "." + runtime
}

// DLQSubject returns the dead letter queue subject for a given subject.
func DLQSubject(subject string) string {
	return SubjectDLQPrefix + "." + subject
}
