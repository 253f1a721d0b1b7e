// Package models holds the declarative task data model shared by the
// processor core and its collaborators.
package models

import "fmt"

// TaskStatus tracks a task run through its lifecycle.
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
)

// InParam declares one input of a process.
type InParam struct {
	Name string `yaml:"name"`
	// StageAs optionally renames staged files; may contain * and ? wildcards.
	StageAs string `yaml:"stage_as,omitempty"`
}

// OutParamKind discriminates output parameter variants.
type OutParamKind string

const (
	OutStdout OutParamKind = "stdout"
	OutFile   OutParamKind = "file"
	OutValue  OutParamKind = "value"
)

// OutParam declares one expected output of a task. Declared at pipeline
// definition time and read-only during execution.
type OutParam struct {
	Kind OutParamKind `yaml:"kind"`
	Name string       `yaml:"name"`

	// File outputs only.
	Pattern       string `yaml:"pattern,omitempty"`
	IncludeHidden bool   `yaml:"include_hidden,omitempty"`
	IncludeInputs bool   `yaml:"include_inputs,omitempty"`
	Joint         bool   `yaml:"joint,omitempty"`
	Separator     string `yaml:"separator,omitempty"` // splits Pattern into sub-patterns
}

// TaskConfig is the declarative description of a unit of work.
type TaskConfig struct {
	Name    string     `yaml:"name"`
	Command string     `yaml:"command"`
	Inputs  []InParam  `yaml:"inputs,omitempty"`
	Outputs []OutParam `yaml:"outputs,omitempty"`
	Tag     string     `yaml:"tag,omitempty"`
}

// FileHolder binds a logical value to its on-disk storage and the name it is
// staged under inside a task working directory. Created per normalization
// call and consumed immediately.
type FileHolder struct {
	Param     string // declaring input parameter
	Source    any    // the original input value
	StorePath string // where the bytes live
	StageName string // the name inside the working directory
}

// TaskRun is one execution attempt of a declared process.
type TaskRun struct {
	Index       int
	Name        string
	Status      TaskStatus
	WorkDir     string
	ExitCode    int
	Command     string
	Inputs      []FileHolder   // staged input files
	InputValues map[string]any // declared input name -> original value
	Outputs     map[string]any
	Stdout      string // path of the captured stdout file
}

// DisplayName is the task's run label, e.g. "align (3)".
func (t *TaskRun) DisplayName() string {
	return fmt.Sprintf("%s (%d)", t.Name, t.Index)
}
