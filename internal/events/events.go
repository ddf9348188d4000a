// Package events defines the task event union published on the per-task
// Redis channel and streamed to SSE subscribers.
//
// The wire format is a tagged JSON object with an explicit "type"
// discriminator ("progress" or "status") so new variants can be added without
// breaking existing consumers.
package events

import (
	"encoding/json"
	"fmt"
)

// State is the task lifecycle status.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Phase names a pipeline stage, the unit of progress reporting.
type Phase string

const (
	PhaseDirCopy       Phase = "dir_copy"
	PhaseRenderINI     Phase = "render_ini"
	PhaseDBProvision   Phase = "db_provision"
	PhaseDockerInstall Phase = "docker_install"
	PhaseDockerIdxCfg  Phase = "docker_index_cfg"
	PhaseFlipBootstrap Phase = "flip_bootstrap"
	PhaseIndex         Phase = "index"
)

// Event is either a Progress or a Status.
type Event interface {
	// SSEName is the SSE event name the payload is emitted under.
	SSEName() string
}

// Progress reports that a task entered a pipeline phase.
type Progress struct {
	Status  State  `json:"status"`
	Message string `json:"message,omitempty"`
	Phase   Phase  `json:"phase,omitempty"`
}

// SSEName implements Event.
func (Progress) SSEName() string { return "progress" }

// Status reports the terminal outcome of a task.
type Status struct {
	Status  State   `json:"status"`
	WikiID  *uint64 `json:"wiki_id,omitempty"`
	Message string  `json:"message,omitempty"`
}

// SSEName implements Event.
func (Status) SSEName() string { return "status" }

type taggedProgress struct {
	Type string `json:"type"`
	Progress
}

type taggedStatus struct {
	Type string `json:"type"`
	Status
}

// Marshal encodes an event with its type discriminator.
func Marshal(e Event) ([]byte, error) {
	switch v := e.(type) {
	case Progress:
		return json.Marshal(taggedProgress{Type: "progress", Progress: v})
	case Status:
		return json.Marshal(taggedStatus{Type: "status", Status: v})
	default:
		return nil, fmt.Errorf("unknown event %T", e)
	}
}

// Parse decodes a tagged event payload.
func Parse(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "progress":
		var p Progress
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "status":
		var s Status
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
}
