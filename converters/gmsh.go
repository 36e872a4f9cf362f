// Package converters runs the external meshing tool against a staging
// directory. The tool is opaque: this package only stages input bytes,
// builds the container invocation, and interprets the exit status.
package converters

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"meshconv/config"
	"meshconv/models"
)

const (
	InputName  = "input.igs"
	OutputName = "output.obj"
)

// GmshConverter converts an IGES payload to an OBJ mesh by invoking gmsh
// inside a container, with the staging directory bind-mounted.
type GmshConverter struct {
	cfg    config.Config
	logger *logrus.Logger
}

func NewGmshConverter(cfg config.Config, logger *logrus.Logger) *GmshConverter {
	return &GmshConverter{cfg: cfg, logger: logger}
}

// Convert stages the upload into stagingDir, runs the tool against it, and
// returns the path of the produced mesh. The caller owns stagingDir and is
// responsible for removing it after the result has been consumed.
func (c *GmshConverter) Convert(ctx context.Context, stagingDir string, upload io.Reader) (string, error) {
	inputPath := filepath.Join(stagingDir, InputName)
	if err := writeInput(inputPath, upload); err != nil {
		return "", models.WrapError(models.KindIO, "error saving uploaded file", err)
	}
	return c.run(ctx, stagingDir)
}

func writeInput(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// run invokes the tool with a hard deadline. On expiry the process is
// killed and joined before run returns, so the staging directory can be
// removed without a live process holding handles inside it.
func (c *GmshConverter) run(ctx context.Context, stagingDir string) (string, error) {
	runner, err := c.cfg.RunnerArgs()
	if err != nil {
		return "", models.WrapError(models.KindEnvironment, "container runtime is misconfigured", err)
	}

	mount := c.cfg.MountPoint
	args := append(runner[1:],
		"-v", stagingDir+":"+mount,
		c.cfg.Image,
		c.cfg.Tool,
		path.Join(mount, InputName),
		"-o", path.Join(mount, OutputName),
		"-3",
	)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, runner[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.WithFields(logrus.Fields{
		"runner": runner[0],
		"image":  c.cfg.Image,
	}).Debug("invoking meshing tool")

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", models.NewError(models.KindTimeout, "conversion timed out")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", models.NewError(models.KindConversion, "conversion failed: "+toolOutput(&stderr, &stdout, err))
		}
		// The command never started: the runtime binary is missing or
		// not executable. A deployment defect, not a bad input file.
		return "", models.WrapError(models.KindEnvironment, "container runtime not available", err)
	}
	c.logger.WithField("duration", time.Since(start)).Debug("meshing tool finished")

	outputPath := filepath.Join(stagingDir, OutputName)
	if _, err := os.Stat(outputPath); err != nil {
		return "", models.NewError(models.KindConversion, "conversion failed: output file not created")
	}
	return outputPath, nil
}

// toolOutput picks the most useful diagnostic text: stderr, then stdout,
// then the raw exit error.
func toolOutput(stderr, stdout *bytes.Buffer, err error) string {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(stdout.String()); msg != "" {
		return msg
	}
	return err.Error()
}
