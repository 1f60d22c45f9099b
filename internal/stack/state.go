package stack

import (
	"errors"
	"fmt"
	"time"
)

// ServerStateKey is the stack parameter that carries the desired power state.
const ServerStateKey = "ServerState"

// ErrInvalidState is returned for a desired state other than Running or Stopped.
var ErrInvalidState = errors.New("invalid desired state")

// DesiredState is the operator's intended server power state.
type DesiredState string

const (
	Running DesiredState = "Running"
	Stopped DesiredState = "Stopped"
)

// Valid reports whether s is Running or Stopped.
func (s DesiredState) Valid() bool {
	return s == Running || s == Stopped
}

// ParseDesiredState converts a raw value into a DesiredState.
func ParseDesiredState(value string) (DesiredState, error) {
	state := DesiredState(value)
	if !state.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, value)
	}
	return state, nil
}

// Parameter is a single stack parameter in the order CloudFormation reports it.
type Parameter struct {
	Key              string `json:"parameterKey"`
	Value            string `json:"parameterValue"`
	UsePreviousValue bool   `json:"usePreviousValue,omitempty"`
}

// Output is a stack output value.
type Output struct {
	Key         string `json:"outputKey"`
	Value       string `json:"outputValue"`
	Description string `json:"description,omitempty"`
	ExportName  string `json:"exportName,omitempty"`
}

// Stack holds the fields of a CloudFormation stack that status consumers need.
type Stack struct {
	Name         string      `json:"stackName"`
	ID           string      `json:"stackId"`
	Status       string      `json:"stackStatus"`
	StatusReason string      `json:"stackStatusReason,omitempty"`
	Description  string      `json:"description,omitempty"`
	Parameters   []Parameter `json:"parameters"`
	Outputs      []Output    `json:"outputs,omitempty"`
	CreatedAt    *time.Time  `json:"creationTime,omitempty"`
	UpdatedAt    *time.Time  `json:"lastUpdatedTime,omitempty"`
}

// Parameter returns the value of the first parameter named key.
func (s Stack) Parameter(key string) (string, bool) {
	for _, p := range s.Parameters {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// ServerState returns the raw ServerState parameter. The value is not
// validated so that an unexpected template value is still reported.
func (s Stack) ServerState() (string, bool) {
	return s.Parameter(ServerStateKey)
}

// ReplaceParameter returns a new parameter list holding every parameter not
// named key, untouched and in order, followed by key=value. params is not modified.
func ReplaceParameter(params []Parameter, key, value string) []Parameter {
	out := make([]Parameter, 0, len(params)+1)
	for _, p := range params {
		if p.Key == key {
			continue
		}
		out = append(out, p)
	}
	return append(out, Parameter{Key: key, Value: value})
}
