// Package jobs loads the jobs file, compiles it into runnable definitions and
// executes single runs with timeout, retry and bookkeeping.
package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"krontab/internal/shared"
)

// File is the decoded jobs file.
type File struct {
	// Timezone overrides the daemon's TIMEZONE for every job.
	Timezone string `yaml:"timezone"`
	Jobs     []Spec `yaml:"jobs" validate:"required,min=1,dive"`
}

// Spec declares one job.
type Spec struct {
	Name     string        `yaml:"name" validate:"required,max=64,jobname"`
	Schedule string        `yaml:"schedule" validate:"required"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	Overlap  string        `yaml:"overlap" validate:"omitempty,oneof=allow skip delay"`
	Retry    RetrySpec     `yaml:"retry"`
	Disabled bool          `yaml:"disabled"`

	Shell *ShellSpec `yaml:"shell" validate:"omitempty"`
	HTTP  *HTTPSpec  `yaml:"http" validate:"omitempty"`
}

// ShellSpec runs a command through sh -c.
type ShellSpec struct {
	Command string            `yaml:"command" validate:"required"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
}

// HTTPSpec performs one request; non-2xx responses fail the run.
type HTTPSpec struct {
	URL     string            `yaml:"url" validate:"required,url"`
	Method  string            `yaml:"method" validate:"omitempty,oneof=GET HEAD POST PUT PATCH DELETE"`
	Body    string            `yaml:"body"`
	Headers map[string]string `yaml:"headers"`
}

// RetrySpec configures attempts of a single run.
type RetrySpec struct {
	Attempts int           `yaml:"attempts" validate:"gte=0,lte=20"`
	Delay    time.Duration `yaml:"delay" validate:"gte=0"`
	MaxDelay time.Duration `yaml:"max_delay" validate:"gte=0"`
}

// UnmarshalYAML accepts `shell` either as a plain command string or as a mapping.
func (s *ShellSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Command = node.Value
		return nil
	}
	type plain ShellSpec
	return node.Decode((*plain)(s))
}

var (
	validate   = validator.New()
	jobNameRE  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	errNoJobs  = errors.New("jobs: file declares no jobs")
	errNoInput = errors.New("jobs: empty file")
)

func init() {
	_ = validate.RegisterValidation("jobname", func(fl validator.FieldLevel) bool {
		return jobNameRE.MatchString(fl.Field().String())
	})
}

// Load reads and validates the jobs file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, shared.MarkKind(fmt.Errorf("jobs: %w", err), shared.KindNotFound)
		}
		return File{}, fmt.Errorf("jobs: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return File{}, shared.Wrapf(err, "jobs: %s", path)
	}
	return f, nil
}

// Parse decodes and validates a jobs file. Unknown keys are errors.
func Parse(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, shared.MarkKind(errNoInput, shared.KindValidation)
		}
		return File{}, shared.MarkKind(fmt.Errorf("jobs: decode: %w", err), shared.KindValidation)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks field rules, action exclusivity, name uniqueness, the
// timezone and every schedule expression. All problems are reported at once.
func (f File) Validate() error {
	if len(f.Jobs) == 0 {
		return shared.MarkKind(errNoJobs, shared.KindValidation)
	}

	var errs []error
	if err := validate.Struct(f); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if f.Timezone != "" {
		if _, err := time.LoadLocation(f.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}

	seen := make(map[string]int, len(f.Jobs))
	for i, spec := range f.Jobs {
		switch {
		case spec.Shell == nil && spec.HTTP == nil:
			errs = append(errs, fmt.Errorf("job %q: needs a shell or http action", spec.Name))
		case spec.Shell != nil && spec.HTTP != nil:
			errs = append(errs, fmt.Errorf("job %q: shell and http are mutually exclusive", spec.Name))
		}
		if prev, ok := seen[spec.Name]; ok && spec.Name != "" {
			errs = append(errs, fmt.Errorf("job %q: duplicate name (jobs %d and %d)", spec.Name, prev+1, i+1))
		}
		seen[spec.Name] = i
		if spec.Schedule != "" {
			if _, err := parseSchedule(spec.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("job %q: %w", spec.Name, err))
			}
		}
	}
	if len(errs) > 0 {
		return shared.MarkKind(errors.Join(errs...), shared.KindValidation)
	}
	return nil
}

// fieldPath turns "File.Jobs[0].HTTP.URL" into "jobs[0].http.url".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "File.")
	return strings.ToLower(ns)
}
