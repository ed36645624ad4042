package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Runtime names reported by detection.
const (
	RuntimeDockerfile = "dockerfile"
	RuntimeNode       = "node"
	RuntimeNext       = "next"
	RuntimeGo         = "go"
)

// ErrUnsupportedProject is returned when no build configuration can be found.
var ErrUnsupportedProject = errors.New("no Dockerfile, package.json or go.mod found")

// Detection summarises how a checked out repository will be built.
type Detection struct {
	Runtime             string
	PackageManager      string
	DockerfileGenerated bool
}

// Describe renders the detection as a log message.
func (d Detection) Describe() string {
	switch {
	case d.Runtime == RuntimeDockerfile:
		return "📋 Using repository Dockerfile"
	case d.PackageManager != "":
		return fmt.Sprintf("📋 Detected %s project (%s)", d.Runtime, d.PackageManager)
	default:
		return fmt.Sprintf("📋 Detected %s project", d.Runtime)
	}
}

type packageManifest struct {
	PackageManager  string            `json:"packageManager"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (m *packageManifest) hasDependency(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}

// Detect inspects workdir and writes a Dockerfile when the repository has none.
func Detect(workdir string) (Detection, error) {
	if fileExists(filepath.Join(workdir, "Dockerfile")) {
		return Detection{Runtime: RuntimeDockerfile}, nil
	}

	var det Detection
	var dockerfile string
	if manifest, ok := loadPackageManifest(workdir); ok {
		det.Runtime = RuntimeNode
		if manifest.hasDependency("next") {
			det.Runtime = RuntimeNext
		}
		det.PackageManager = detectPackageManager(workdir, manifest)
		_, hasBuild := manifest.Scripts["build"]
		dockerfile = renderNodeDockerfile(det.Runtime, det.PackageManager, hasBuild)
	} else if fileExists(filepath.Join(workdir, "go.mod")) {
		det.Runtime = RuntimeGo
		dockerfile = renderGoDockerfile()
	} else {
		return Detection{}, ErrUnsupportedProject
	}

	if err := os.WriteFile(filepath.Join(workdir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return Detection{}, fmt.Errorf("write dockerfile: %w", err)
	}
	det.DockerfileGenerated = true
	return det, nil
}

func loadPackageManifest(workdir string) (*packageManifest, bool) {
	data, err := os.ReadFile(filepath.Join(workdir, "package.json"))
	if err != nil {
		return nil, false
	}
	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, false
	}
	return &manifest, true
}

func detectPackageManager(workdir string, manifest *packageManifest) string {
	if declared := strings.ToLower(strings.TrimSpace(manifest.PackageManager)); declared != "" {
		if idx := strings.Index(declared, "@"); idx > 0 {
			declared = declared[:idx]
		}
		switch declared {
		case "npm", "yarn", "pnpm":
			return declared
		}
	}
	switch {
	case fileExists(filepath.Join(workdir, "yarn.lock")):
		return "yarn"
	case fileExists(filepath.Join(workdir, "pnpm-lock.yaml")):
		return "pnpm"
	default:
		return "npm"
	}
}

func renderNodeDockerfile(runtime, pm string, build bool) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM node:20-bullseye\n")
	b.WriteString("WORKDIR /app\n\n")
	switch pm {
	case "yarn":
		b.WriteString("COPY package.json yarn.lock ./\n")
		b.WriteString("RUN corepack enable && yarn install --frozen-lockfile\n\n")
	case "pnpm":
		b.WriteString("COPY package.json pnpm-lock.yaml ./\n")
		b.WriteString("RUN corepack enable && pnpm install --frozen-lockfile\n\n")
	default:
		b.WriteString("COPY package*.json ./\n")
		b.WriteString("RUN if [ -f package-lock.json ]; then npm ci; else npm install; fi\n\n")
	}
	b.WriteString("COPY . ./\n")
	if build {
		b.WriteString("RUN " + pm + " run build\n")
	}
	b.WriteString("ENV NODE_ENV=production\n")
	if runtime == RuntimeNext {
		b.WriteString("ENV NEXT_TELEMETRY_DISABLED=1\n")
	}
	b.WriteString("ENV PORT=3000\n")
	b.WriteString("EXPOSE 3000\n")
	b.WriteString("CMD [\"" + pm + "\", \"start\"]\n")
	return b.String()
}

func renderGoDockerfile() string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM golang:1.24 AS builder\n")
	b.WriteString("WORKDIR /src\n\n")
	b.WriteString("COPY go.* ./\n")
	b.WriteString("RUN go mod download\n\n")
	b.WriteString("COPY . ./\n")
	b.WriteString("RUN CGO_ENABLED=0 GOOS=linux go build -o /out/app .\n\n")
	b.WriteString("FROM gcr.io/distroless/static-debian12\n")
	b.WriteString("COPY --from=builder /out/app /app\n")
	b.WriteString("ENV PORT=3000\n")
	b.WriteString("EXPOSE 3000\n")
	b.WriteString("ENTRYPOINT [\"/app\"]\n")
	return b.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
