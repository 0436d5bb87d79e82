package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

// DeployOptions controls how the remote system applies a deploy archive.
type DeployOptions struct {
	CheckOnly       bool     `json:"check_only"`
	RollbackOnError bool     `json:"rollback_on_error"`
	IgnoreWarnings  bool     `json:"ignore_warnings"`
	SinglePackage   bool     `json:"single_package"`
	TestLevel       string   `json:"test_level,omitempty"`
	RunTests        []string `json:"run_tests,omitempty"`
}

// Test levels accepted by deploy.
const (
	TestLevelNoTests       = "NoTestRun"
	TestLevelSpecified     = "RunSpecifiedTests"
	TestLevelLocal         = "RunLocalTests"
	TestLevelAllTestsInOrg = "RunAllTestsInOrg"
)

const problemTypeWarning = "Warning"

// ComponentOutcome is the remote verdict on one deployed or retrieved component.
type ComponentOutcome struct {
	Type        Type   `json:"type"`
	FullName    string `json:"full_name"`
	FileName    string `json:"file_name,omitempty"`
	Success     bool   `json:"success"`
	Created     bool   `json:"created,omitempty"`
	Changed     bool   `json:"changed,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`
	Problem     string `json:"problem,omitempty"`
	ProblemType string `json:"problem_type,omitempty"`
	Line        int    `json:"line,omitempty"`
	Column      int    `json:"column,omitempty"`
}

// IsWarning reports whether the outcome is a non-fatal warning.
func (o ComponentOutcome) IsWarning() bool {
	return o.ProblemType == problemTypeWarning
}

// TestFailure describes one failing test method.
type TestFailure struct {
	Name       string  `json:"name"`
	MethodName string  `json:"method_name"`
	Message    string  `json:"message"`
	StackTrace string  `json:"stack_trace,omitempty"`
	Time       float64 `json:"time_ms"`
}

// TestSummary is the test-execution report attached to a deploy.
type TestSummary struct {
	NumTestsRun int           `json:"num_tests_run"`
	NumFailures int           `json:"num_failures"`
	TotalTime   float64       `json:"total_time_ms"`
	Failures    []TestFailure `json:"failures,omitempty"`
}

// DeployReport is the detailed status the remote system returns for a
// finished deploy.
type DeployReport struct {
	Success      bool               `json:"success"`
	Status       string             `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Components   []ComponentOutcome `json:"components"`
	Tests        *TestSummary       `json:"tests,omitempty"`
}

// DeployResult is the reconciled outcome of a deploy job. Component failures
// are reported here rather than as an error.
type DeployResult struct {
	Job *domain.Job `json:"job"`
	DeployReport
}

// Failures returns the component outcomes that did not succeed.
func (r *DeployResult) Failures() []ComponentOutcome {
	var out []ComponentOutcome
	for _, c := range r.Components {
		if !c.Success && !c.IsWarning() {
			out = append(out, c)
		}
	}
	return out
}

// FileProperties describes one file in a retrieve result.
type FileProperties struct {
	FileName string `json:"file_name"`
	FullName string `json:"full_name"`
	Type     Type   `json:"type"`
}

// RetrieveReport is the raw payload of a finished retrieve.
type RetrieveReport struct {
	Success      bool             `json:"success"`
	Status       string           `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ZipFile      []byte           `json:"-"`
	Files        []FileProperties `json:"files"`
	Messages     []string         `json:"messages,omitempty"`
}

// RetrieveResult is the decoded outcome of a retrieve job.
type RetrieveResult struct {
	Job        *domain.Job      `json:"job"`
	Success    bool             `json:"success"`
	Files      []FileProperties `json:"files"`
	Messages   []string         `json:"messages,omitempty"`
	Manifest   *Manifest        `json:"-"`
	Components []Component      `json:"-"`
	Archive    []byte           `json:"-"`
	ArchiveURI string           `json:"archive_uri,omitempty"`
}

// Keys under which DeployOptions travel in domain.JobSpec.Options.
const (
	OptionCheckOnly       = "checkOnly"
	OptionRollbackOnError = "rollbackOnError"
	OptionIgnoreWarnings  = "ignoreWarnings"
	OptionSinglePackage   = "singlePackage"
	OptionTestLevel       = "testLevel"
	OptionRunTests        = "runTests"
)

// Options flattens the deploy options into job creation options.
func (o DeployOptions) Options() map[string]string {
	opts := map[string]string{
		OptionCheckOnly:       strconv.FormatBool(o.CheckOnly),
		OptionRollbackOnError: strconv.FormatBool(o.RollbackOnError),
		OptionIgnoreWarnings:  strconv.FormatBool(o.IgnoreWarnings),
		OptionSinglePackage:   strconv.FormatBool(o.SinglePackage),
	}
	if o.TestLevel != "" {
		opts[OptionTestLevel] = o.TestLevel
	}
	if len(o.RunTests) > 0 {
		opts[OptionRunTests] = strings.Join(o.RunTests, ",")
	}
	return opts
}

// DeployOptionsFrom is the inverse of DeployOptions.Options. Unset flags keep
// their zero value.
func DeployOptionsFrom(opts map[string]string) DeployOptions {
	flag := func(key string) bool {
		v, _ := strconv.ParseBool(opts[key])
		return v
	}
	o := DeployOptions{
		CheckOnly:       flag(OptionCheckOnly),
		RollbackOnError: flag(OptionRollbackOnError),
		IgnoreWarnings:  flag(OptionIgnoreWarnings),
		SinglePackage:   flag(OptionSinglePackage),
		TestLevel:       opts[OptionTestLevel],
	}
	for _, t := range strings.Split(opts[OptionRunTests], ",") {
		if t = strings.TrimSpace(t); t != "" {
			o.RunTests = append(o.RunTests, t)
		}
	}
	return o
}

// Validate checks that the test selection is consistent.
func (o DeployOptions) Validate() error {
	switch o.TestLevel {
	case "", TestLevelNoTests, TestLevelLocal, TestLevelAllTestsInOrg:
		if len(o.RunTests) > 0 {
			return fmt.Errorf("metadata: run tests require test level %s", TestLevelSpecified)
		}
	case TestLevelSpecified:
		if len(o.RunTests) == 0 {
			return fmt.Errorf("metadata: test level %s needs at least one test class", TestLevelSpecified)
		}
	default:
		return fmt.Errorf("metadata: unknown test level %q", o.TestLevel)
	}
	return nil
}
