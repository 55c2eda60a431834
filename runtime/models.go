package runtime

import "github.com/arach/talkie-sub016/internal/pod/supervisor"

// PodStatus is the status snapshot of a single pod.
type PodStatus = supervisor.PodStatus

// RequestBody is the body of a pod request.
type RequestBody struct {
	Payload map[string]any `json:"payload"`
}

// SpawnBody is the body of a spawn request. Config replaces the configured
// pod config for the capability if set.
type SpawnBody struct {
	Config map[string]string `json:"config"`
}

// StatusList is the body of a status listing, sorted by capability.
type StatusList struct {
	Pods []PodStatus `json:"pods"`
}
