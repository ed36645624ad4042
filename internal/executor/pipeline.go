package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yerniteja1/deploykit/internal/executor/docker"
	"github.com/yerniteja1/deploykit/internal/executor/git"
	"github.com/yerniteja1/deploykit/internal/executor/workspace"
)

// ImageBuilder builds a container image from a prepared directory.
type ImageBuilder interface {
	BuildImage(ctx context.Context, req docker.BuildRequest, onOutput docker.BuildOutputCallback) error
}

// PipelineConfig tunes the docker pipeline.
type PipelineConfig struct {
	GitTimeout time.Duration
	Registry   string
}

// Pipeline clones the repository, detects how to build it and produces a
// container image, streaming build output as log entries.
type Pipeline struct {
	workspace *workspace.Manager
	builder   ImageBuilder
	clone     func(context.Context, git.CloneOptions) error
	cfg       PipelineConfig
	log       *slog.Logger
	now       func() time.Time
}

// NewPipeline wires a Pipeline.
func NewPipeline(ws *workspace.Manager, builder ImageBuilder, cfg PipelineConfig, log *slog.Logger) *Pipeline {
	if cfg.GitTimeout <= 0 {
		cfg.GitTimeout = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		workspace: ws,
		builder:   builder,
		clone:     git.Clone,
		cfg:       cfg,
		log:       log.With("component", "pipeline"),
		now:       time.Now,
	}
}

// Execute runs the pipeline stages in order.
func (p *Pipeline) Execute(ctx context.Context, target Target, emit Emitter) Outcome {
	say := func(msg string) { emit(Entry{Time: p.now(), Message: msg}) }
	fail := func(stage string, err error) Outcome {
		p.log.Warn("pipeline stage failed", "deployment_id", target.DeploymentID, "stage", stage, "error", err)
		say(FailureMessage(fmt.Errorf("%s: %w", stage, err)))
		return Failed
	}

	say("🚀 Starting deployment for " + target.Name)

	workdir, err := p.workspace.Prepare(target.DeploymentID)
	if err != nil {
		return fail("workspace", err)
	}
	defer func() {
		if err := p.workspace.Cleanup(workdir); err != nil {
			p.log.Error("workspace cleanup failed", "deployment_id", target.DeploymentID, "error", err)
		}
	}()

	say("📦 Cloning repository " + target.RepoFullName + "...")
	gitCtx, cancelGit := context.WithTimeout(ctx, p.cfg.GitTimeout)
	err = p.clone(gitCtx, git.CloneOptions{
		URL:    git.RepositoryURL(target.RepoURL, target.RepoFullName),
		Branch: target.Branch,
		Dest:   workdir,
	})
	cancelGit()
	if err != nil {
		return fail("clone", err)
	}
	say("✅ Repository cloned successfully")

	say("🔍 Detecting framework and build settings...")
	det, err := Detect(workdir)
	if err != nil {
		return fail("detect", err)
	}
	say(det.Describe())
	if det.DockerfileGenerated {
		say("📝 Generated Dockerfile")
	}
	if err := ctx.Err(); err != nil {
		return fail("detect", err)
	}

	tag := ImageTag(p.cfg.Registry, target)
	say("🔨 Building image " + tag + "...")
	err = p.builder.BuildImage(ctx, docker.BuildRequest{
		Dir: workdir,
		Tag: tag,
		Labels: map[string]string{
			"deploykit.project":    target.ProjectID,
			"deploykit.deployment": target.DeploymentID,
		},
	}, say)
	if err != nil {
		return fail("build", err)
	}
	say("✅ Build successful")
	say("✅ Deployment successful!")
	say("🎉 Image " + tag + " is ready")
	return Succeeded
}

// ImageTag derives registry/name:short-deployment-id.
func ImageTag(registry string, target Target) string {
	name := slug(target.Name)
	if name == "" {
		name = "app"
	}
	version := target.DeploymentID
	if len(version) > 12 {
		version = version[:12]
	}
	if version == "" {
		version = "latest"
	}
	if registry = strings.Trim(registry, "/"); registry != "" {
		name = registry + "/" + name
	}
	return name + ":" + version
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
