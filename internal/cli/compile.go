package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cfelder/loopline/internal/kernel"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	OutDir string
}

// CompiledKernel is the per-kernel summary emitted by compile.
type CompiledKernel struct {
	Name         string `json:"name"`
	Hash         string `json:"hash"`
	Inames       int    `json:"inames"`
	Instructions int    `json:"instructions"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <kernels-dir>",
		Short: "Compile kernel descriptions to canonical form",
		Long: `Compile CUE kernel descriptions into the canonical kernel model.

Each kernel is parsed, structurally validated, and content-hashed.
With --out, the canonical JSON body of every kernel is written to
<out>/<name>.json - the exact bytes its revision hash covers.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OutDir, "out", "", "directory to write canonical kernel JSON into")

	return cmd
}

func runCompile(opts *CompileOptions, kernelsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadKernels(kernelsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Error())
		}
		_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, kernelsDir)

	var compiled []CompiledKernel
	for _, k := range loadResult.Kernels {
		if structural := kernel.Validate(k); len(structural) > 0 {
			_ = formatter.Error(structural[0].Code,
				fmt.Sprintf("kernel %q: %s", k.Name, structural[0].Message), structural)
			return NewExitError(ExitFailure,
				fmt.Sprintf("kernel %q failed structural validation with %d error(s)", k.Name, len(structural)))
		}
		compiled = append(compiled, CompiledKernel{
			Name:         k.Name,
			Hash:         k.Hash(),
			Inames:       len(k.Inames),
			Instructions: len(k.Instructions),
		})
	}

	if opts.OutDir != "" {
		if err := writeCanonical(opts.OutDir, loadResult); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "writing canonical output", err)
		}
		formatter.VerboseLog("Wrote %d kernel file(s) to %s", len(compiled), opts.OutDir)
	}

	if opts.Format == "json" {
		return formatter.Success(compiled)
	}
	for _, c := range compiled {
		fmt.Fprintf(formatter.Writer, "%s  %s  (%d inames, %d instructions)\n",
			c.Hash[:12], c.Name, c.Inames, c.Instructions)
	}
	return nil
}

func writeCanonical(dir string, res *LoadResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, k := range res.Kernels {
		body, err := k.CanonicalBody()
		if err != nil {
			return fmt.Errorf("kernel %q: %w", k.Name, err)
		}
		path := filepath.Join(dir, k.Name+".json")
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return fmt.Errorf("kernel %q: %w", k.Name, err)
		}
	}
	return nil
}
