package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline mode values.
const (
	ModeTest       = "test"
	ModeProduction = "production"
)

// Idea source values.
const (
	SourceGmail = "gmail"
	SourceNotes = "notes"
)

// Document-stage failure policies. The policy must be explicit; there is no
// default, so a missing value is a validation error.
const (
	// FailFast aborts the remaining topics after the first unretried failure.
	FailFast = "fail_fast"
	// Continue isolates per-topic failures and keeps processing.
	Continue = "continue"
)

// Pipeline is the configuration supplied with a start command. It is
// snapshotted into the session and immutable for the run.
type Pipeline struct {
	Name           string `json:"name" yaml:"name"`
	Mode           string `json:"mode" yaml:"mode"`
	Idea           Idea   `json:"idea" yaml:"idea"`
	Doc            Doc    `json:"doc" yaml:"doc"`
	RetryOnFailure bool   `json:"retry_on_failure" yaml:"retry_on_failure"`
	// Stage1TimeoutSecs bounds the single idea-generation invocation.
	Stage1TimeoutSecs int `json:"stage1_timeout" yaml:"stage1_timeout"`
	// Stage2TimeoutSecs bounds each per-topic document invocation.
	Stage2TimeoutSecs int `json:"stage2_timeout" yaml:"stage2_timeout"`
}

// Idea configures the idea-generation stage.
type Idea struct {
	Source         string `json:"source" yaml:"source"`
	StartDate      string `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	Label          string `json:"label,omitempty" yaml:"label,omitempty"`
	Focus          string `json:"focus,omitempty" yaml:"focus,omitempty"`
	CombinedTopics bool   `json:"combined_topics,omitempty" yaml:"combined_topics,omitempty"`
}

// Doc configures the document-generation stage.
type Doc struct {
	Audience      string `json:"audience" yaml:"audience"`
	DocType       string `json:"doc_type" yaml:"doc_type"`
	Size          string `json:"size" yaml:"size"`
	Output        string `json:"output" yaml:"output"`
	StyleFile     string `json:"style_file,omitempty" yaml:"style_file,omitempty"`
	StoryFile     string `json:"story_file,omitempty" yaml:"story_file,omitempty"`
	FailurePolicy string `json:"failure_policy" yaml:"failure_policy"`
}

// Stage1Timeout returns the idea-stage timeout as a time.Duration.
func (p *Pipeline) Stage1Timeout() time.Duration {
	return time.Duration(p.Stage1TimeoutSecs) * time.Second
}

// Stage2Timeout returns the per-document timeout as a time.Duration.
func (p *Pipeline) Stage2Timeout() time.Duration {
	return time.Duration(p.Stage2TimeoutSecs) * time.Second
}

// ValidModes returns the list of valid pipeline modes.
func ValidModes() []string {
	return []string{ModeTest, ModeProduction}
}

// ValidSources returns the list of valid idea sources.
func ValidSources() []string {
	return []string{SourceGmail, SourceNotes}
}

// ValidFailurePolicies returns the list of valid document-stage failure
// policies.
func ValidFailurePolicies() []string {
	return []string{FailFast, Continue}
}

// Validate checks the Pipeline for invalid values and returns all validation
// errors found. An empty result means the pipeline may be started.
func (p *Pipeline) Validate() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Value:   p.Name,
			Message: "pipeline name is required",
		})
	}
	if !slices.Contains(ValidModes(), p.Mode) {
		errs = append(errs, ValidationError{
			Field:   "mode",
			Value:   p.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidModes(), ", ")),
		})
	}
	if !slices.Contains(ValidSources(), p.Idea.Source) {
		errs = append(errs, ValidationError{
			Field:   "idea.source",
			Value:   p.Idea.Source,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSources(), ", ")),
		})
	}
	if strings.TrimSpace(p.Doc.Audience) == "" {
		errs = append(errs, ValidationError{
			Field:   "doc.audience",
			Value:   p.Doc.Audience,
			Message: "audience is required",
		})
	}
	if strings.TrimSpace(p.Doc.DocType) == "" {
		errs = append(errs, ValidationError{
			Field:   "doc.doc_type",
			Value:   p.Doc.DocType,
			Message: "document type is required",
		})
	}
	if strings.TrimSpace(p.Doc.Size) == "" {
		errs = append(errs, ValidationError{
			Field:   "doc.size",
			Value:   p.Doc.Size,
			Message: "document size is required",
		})
	}
	if strings.TrimSpace(p.Doc.Output) == "" {
		errs = append(errs, ValidationError{
			Field:   "doc.output",
			Value:   p.Doc.Output,
			Message: "output location is required",
		})
	}
	if !slices.Contains(ValidFailurePolicies(), p.Doc.FailurePolicy) {
		errs = append(errs, ValidationError{
			Field:   "doc.failure_policy",
			Value:   p.Doc.FailurePolicy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidFailurePolicies(), ", ")),
		})
	}
	if p.Stage1TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "stage1_timeout",
			Value:   p.Stage1TimeoutSecs,
			Message: "must be a positive number of seconds",
		})
	}
	if p.Stage2TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "stage2_timeout",
			Value:   p.Stage2TimeoutSecs,
			Message: "must be a positive number of seconds",
		})
	}

	return errs
}

// ExamplePipeline returns a filled-in example configuration, served by the
// API so clients can prefill their forms.
func ExamplePipeline() Pipeline {
	return Pipeline{
		Name: "My Content Pipeline",
		Mode: ModeTest,
		Idea: Idea{
			Source:    SourceGmail,
			StartDate: "01012025",
			Label:     "AIQ",
			Focus:     "AI transformation and business strategy",
		},
		Doc: Doc{
			Audience:      "business executives",
			DocType:       "blog post",
			Size:          "800 words",
			Output:        "./output",
			FailurePolicy: Continue,
		},
		RetryOnFailure:    true,
		Stage1TimeoutSecs: 600,
		Stage2TimeoutSecs: 300,
	}
}

// LoadPipelineFile reads a pipeline configuration from a YAML file.
// The result is not validated; callers validate before starting.
func LoadPipelineFile(path string) (Pipeline, error) {
	var p Pipeline

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	return p, nil
}

// MarshalExample renders the example pipeline configuration as YAML, for the
// example-config command.
func MarshalExample() (string, error) {
	example := ExamplePipeline()
	data, err := yaml.Marshal(&example)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
