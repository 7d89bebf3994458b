package apimodel

import "time"

// StateRequest updates the desired state; absent fields are left untouched.
type StateRequest struct {
	Output     *string `json:"output"`
	Mode       *string `json:"mode"`
	Value      *string `json:"value"`
	ClearValue bool    `json:"clear_value"`
	Active     *bool   `json:"active"`
}

type DesiredState struct {
	Output string  `json:"output"`
	Mode   string  `json:"mode"`
	Value  *string `json:"value"`
	Active bool    `json:"active"`
}

type AppliedOutput struct {
	Connector string    `json:"connector"`
	Mode      string    `json:"mode"`
	Value     string    `json:"value"`
	RunId     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

type Status struct {
	Desired               DesiredState   `json:"desired"`
	Applied               *AppliedOutput `json:"applied"`
	LastError             string         `json:"last_error,omitempty"`
	Owned                 []string       `json:"owned"`
	DisplayManagerStopped bool           `json:"display_manager_stopped"`
}
