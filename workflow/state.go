package workflow

import (
	"fmt"

	"fieldscan/models"
)

// State of the analysis workflow.
type State int

const (
	Idle State = iota
	ImageSelected
	Analyzing
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ImageSelected:
		return "image_selected"
	case Analyzing:
		return "analyzing"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Idle, ImageSelected, Analyzing, Complete} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown workflow state %q", b)
}

// Snapshot is a consistent view of the workflow for rendering.
type Snapshot struct {
	State     State              `json:"state"`
	HasImage  bool               `json:"hasImage"`
	ImageName string             `json:"imageName,omitempty"`
	Preview   string             `json:"preview,omitempty"`
	Progress  float64            `json:"progress"`
	Stage     string             `json:"stage,omitempty"`
	Status    string             `json:"status,omitempty"`
	Location  models.Coordinates `json:"location"`
	Locating  bool               `json:"locating"`
	Redirect  string             `json:"redirect,omitempty"` // set once a finished run should navigate
}

// Snapshot returns the current view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{
		State:    o.state,
		Progress: o.progress,
		Stage:    o.stage,
		Status:   o.status,
		Location: o.loc,
		Locating: o.locating,
		Redirect: o.redirectTo,
	}
	if o.sel != nil {
		s.HasImage = true
		s.ImageName = o.sel.name
		s.Preview = o.sel.preview
	}
	return s
}
