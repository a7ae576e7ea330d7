package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aouyang1/pimmich/shell"
	"github.com/aouyang1/pimmich/util"
	"github.com/otiai10/copy"
)

const cloneBackoff = 2 * time.Second

// Source fills an empty project directory, by cloning the repository or by
// copying a local tree for offline installs. A populated directory is left alone.
type Source struct {
	env *Env
}

func (s *Source) Name() string { return StepSource }

func (s *Source) Run(ctx context.Context) (Result, error) {
	cfg := s.env.Cfg
	target := cfg.ProjectDir

	empty, err := util.IsEmptyDir(target)
	if err != nil {
		return Result{}, fmt.Errorf("failed to inspect %s: %w", target, err)
	}
	if !empty {
		slog.Info("project directory not empty, skipping source acquisition", "path", target)
		return unchanged("project directory %s not empty, left as is", target), nil
	}

	if err := s.env.Writer.MkdirAll(ctx, target, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create %s: %w", target, err)
	}

	if cfg.SourceDir != "" {
		return s.copyLocal(cfg.SourceDir, target)
	}
	return s.clone(ctx, target)
}

func (s *Source) copyLocal(src, target string) (Result, error) {
	if s.env.DryRun {
		fmt.Fprintf(s.env.Out, "would copy %s to %s\n", src, target)
		return changed("would copy %s", src), nil
	}

	err := copy.Copy(src, target, copy.Options{
		Skip: func(info os.FileInfo, src, dest string) (bool, error) {
			return info.IsDir() && info.Name() == ".git", nil
		},
	})
	if err != nil {
		if clearErr := util.ClearDir(target); clearErr != nil {
			slog.Warn("failed to clear partial copy", "path", target, "error", clearErr)
		}
		return Result{}, fmt.Errorf("failed to copy %s to %s: %w", src, target, err)
	}
	slog.Info("copied local source", "src", src, "dest", target)
	return changed("copied %s", src), nil
}

func (s *Source) clone(ctx context.Context, target string) (Result, error) {
	cfg := s.env.Cfg

	args := []string{"clone"}
	if cfg.Branch != "" {
		args = append(args, "--branch", cfg.Branch)
	}
	args = append(args, cfg.RepoURL, target)
	cmd := shell.Cmd{Name: "git", Args: args}

	var err error
	for attempt := 1; attempt <= cfg.CloneAttempts; attempt++ {
		err = s.env.Cmd.Run(ctx, cmd)
		if err == nil {
			slog.Info("cloned repository", "repo", cfg.RepoURL, "dest", target, "attempt", attempt)
			return changed("cloned %s", cfg.RepoURL), nil
		}
		slog.Warn("clone failed", "repo", cfg.RepoURL, "attempt", attempt, "attempts", cfg.CloneAttempts, "error", err)

		// leave the target empty so the next attempt, or the next run, starts clean
		if clearErr := util.ClearDir(target); clearErr != nil {
			return Result{}, fmt.Errorf("failed to clear partial clone in %s: %w", target, clearErr)
		}
		if attempt == cfg.CloneAttempts {
			break
		}
		if sleepErr := s.env.sleep(ctx, cloneBackoff*time.Duration(attempt)); sleepErr != nil {
			return Result{}, sleepErr
		}
	}
	return Result{}, fmt.Errorf("failed to clone %s after %d attempts: %w", cfg.RepoURL, cfg.CloneAttempts, err)
}
