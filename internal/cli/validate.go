package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fqlsync/internal/config"
	"github.com/roach88/fqlsync/internal/harness"
)

// File kinds recognized by validate.
const (
	KindConfig   = "config"
	KindScenario = "scenario"
)

// ValidationIssue is one problem found in a file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// FileValidation is the result for one file.
type FileValidation struct {
	Path   string            `json:"path"`
	Kind   string            `json:"kind"`
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate configuration and scenario files",
		Long: `Validate configuration files against the config schema and scenario
files against the scenario rules without connecting to a worker.

A file with a top-level steps list is treated as a scenario, anything
else as a configuration file.

Exit codes:
  0 - All files valid
  1 - One or more files invalid
  2 - Command error (unreadable file)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result := ValidationResult{Valid: true}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("file not found: %s", path), nil)
				return NewExitError(ExitCommandError, fmt.Sprintf("file not found: %s", path))
			}
			return WrapExitError(ExitCommandError, "failed to read "+path, err)
		}

		fv := validateFile(path, data)
		formatter.VerboseLog("Validated %s %s: valid=%t", fv.Kind, path, fv.Valid)
		if !fv.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputValidationText(formatter, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// validateFile classifies data and validates it as that kind.
func validateFile(path string, data []byte) FileValidation {
	fv := FileValidation{Path: path, Kind: detectKind(data)}

	var err error
	if fv.Kind == KindScenario {
		_, err = harness.ParseScenario(data)
	} else {
		_, err = config.Parse(data)
	}
	if err != nil {
		fv.Errors = []ValidationIssue{issueFromError(fv.Kind, err)}
	}
	fv.Valid = len(fv.Errors) == 0
	return fv
}

// detectKind reports whether data looks like a scenario.
func detectKind(data []byte) string {
	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return KindConfig
	}
	if _, ok := top["steps"]; ok {
		return KindScenario
	}
	return KindConfig
}

func issueFromError(kind string, err error) ValidationIssue {
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return ValidationIssue{
			Code:    ErrCodeConfig,
			Field:   cfgErr.Field,
			Message: cfgErr.Message,
			Line:    lineOf(cfgErr.Pos),
		}
	}
	code := ErrCodeConfig
	if kind == KindScenario {
		code = ErrCodeScenario
	}
	return ValidationIssue{Code: code, Message: err.Error()}
}

// lineOf extracts the line number from a CUE position.
func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidationText prints one line per file and its issues.
func outputValidationText(formatter *OutputFormatter, result ValidationResult) {
	w := formatter.Writer
	for _, fv := range result.Files {
		if fv.Valid {
			fmt.Fprintf(w, "✓ %s (%s)\n", fv.Path, fv.Kind)
			continue
		}
		fmt.Fprintf(w, "✗ %s (%s)\n", fv.Path, fv.Kind)
		for _, issue := range fv.Errors {
			loc := ""
			if issue.Field != "" {
				loc = issue.Field + ": "
			}
			if issue.Line > 0 {
				loc = fmt.Sprintf("line %d: %s", issue.Line, loc)
			}
			fmt.Fprintf(w, "  [%s] %s%s\n", issue.Code, loc, issue.Message)
		}
	}
}
