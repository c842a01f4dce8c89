// Package environment implements the Environment Manager: building and
// caching images, materializing containers, and their lifecycle.
package environment

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
)

// Manager turns a harness.Spec into a ready container, consulting the
// image cache first and building a fresh image on a miss.
type Manager struct {
	Client     *docker.Client
	Cache      *CacheManager
	SetupFiles *SetupFilesManager
	SwapDir    string

	// LogsDir is bind-mounted into every container at /logs so agent CLIs
	// can drop their logs somewhere the host can read.
	LogsDir string

	Logger *log.Logger

	// ProxyHTTP/ProxyHTTPS are baked into built images as build args.
	ProxyHTTP  string
	ProxyHTTPS string

	// TestOnly refuses to build images: a container is only materialized
	// from an image that already exists, for re-judging earlier runs.
	TestOnly bool
}

// NewManager builds a Manager; it opens a Docker client from the
// standard DOCKER_HOST/DOCKER_* environment.
func NewManager(swapDir string, logger *log.Logger) (*Manager, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, ferrors.ContainerCreation(err, "creating docker client")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Manager{
		Client:     client,
		Cache:      NewCacheManager(swapDir),
		SetupFiles: NewSetupFilesManager(swapDir),
		SwapDir:    swapDir,
		Logger:     logger,
	}, nil
}

// ContainerHandle wraps a started container plus the identifiers callers
// need to address it through the Command Executor and Container Operator.
type ContainerHandle struct {
	ID    string
	Name  string
	Image string
}

// Materialize yields a ready container for spec: reuse a cached image if
// one was recorded for (repo, number), otherwise build one from the
// Dockerfile template and cache it.
func (m *Manager) Materialize(spec *harness.Spec) (*ContainerHandle, error) {
	image, err := m.resolveImage(spec)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("featbench-%s", sanitizeName(spec.InstanceID))

	if m.SetupFiles != nil {
		if restored, err := m.SetupFiles.RestoreSetupFiles(spec.Repo, spec.RepoName()); err != nil {
			m.Logger.Printf("environment: failed to restore setup-file list for %s: %v", spec.Repo, err)
		} else if restored {
			m.Logger.Printf("environment: restored setup-file list for %s", spec.Repo)
		}
	}

	if existing, err := m.Client.InspectContainer(name); err == nil {
		if !existing.State.Running {
			if err := m.Client.StartContainer(existing.ID, nil); err != nil {
				return nil, ferrors.ContainerCreation(err, "starting existing container %s", name)
			}
		}
		return &ContainerHandle{ID: existing.ID, Name: name, Image: image}, nil
	}

	container, err := m.Client.CreateContainer(docker.CreateContainerOptions{
		Name: name,
		Config: &docker.Config{
			Image: image,
			Cmd:   []string{"sleep", "infinity"},
			Env:   []string{"DEBIAN_FRONTEND=noninteractive"},
		},
		HostConfig: &docker.HostConfig{
			Binds: m.binds(),
		},
	})
	if err != nil {
		return nil, ferrors.ContainerCreation(err, "creating container for %s", spec.InstanceID)
	}

	if err := m.Client.StartContainer(container.ID, nil); err != nil {
		return nil, ferrors.ContainerCreation(err, "starting container for %s", spec.InstanceID)
	}

	return &ContainerHandle{ID: container.ID, Name: name, Image: image}, nil
}

func (m *Manager) binds() []string {
	binds := []string{filepath.Clean(m.SwapDir) + ":/workdir/swap"}
	if m.LogsDir != "" {
		binds = append(binds, filepath.Clean(m.LogsDir)+":/logs")
	}
	return binds
}

func (m *Manager) resolveImage(spec *harness.Spec) (string, error) {
	if imageID, ok, err := m.Cache.CheckCachedImage(spec.Repo, spec.Number); err != nil {
		return "", err
	} else if ok {
		if _, err := m.Client.InspectImage(imageID); err == nil {
			m.Logger.Printf("environment: reusing cached image %s for %s#%d", imageID, spec.Repo, spec.Number)
			return imageID, nil
		}
		m.Logger.Printf("environment: cached image %s for %s#%d no longer exists, rebuilding", imageID, spec.Repo, spec.Number)
	}

	if m.TestOnly {
		imageName := imageNameForPythonVersion(readPythonVersion(m.SwapDir, spec.Repo))
		if _, err := m.Client.InspectImage(imageName); err != nil {
			return "", ferrors.ContainerCreation(err, "test-only mode requires a pre-built image for %s", spec.Repo)
		}
		return imageName, nil
	}

	image, err := m.buildImage(spec.Repo)
	if err != nil {
		return "", err
	}
	if err := m.Cache.SaveImage(spec.Repo, spec.Number, image); err != nil {
		m.Logger.Printf("environment: failed to persist image cache entry: %v", err)
	}
	return image, nil
}

func (m *Manager) buildImage(repo string) (string, error) {
	pythonVersion := readPythonVersion(m.SwapDir, repo)
	imageName := imageNameForPythonVersion(pythonVersion)

	if _, err := m.Client.InspectImage(imageName); err == nil {
		m.Logger.Printf("environment: found existing image %s", imageName)
		return imageName, nil
	}

	dockerfileContent := generateDockerfile(pythonVersion)
	// Unique name per build: concurrent workers building different repos
	// share the swap directory as their build context.
	dockerfilePath := filepath.Join(m.SwapDir, fmt.Sprintf("Dockerfile.%s.tmp", uuid.NewString()[:8]))
	if err := os.MkdirAll(m.SwapDir, 0o755); err != nil {
		return "", ferrors.ImageBuild(err, "preparing build context")
	}
	if err := os.WriteFile(dockerfilePath, []byte(dockerfileContent), 0o644); err != nil {
		return "", ferrors.ImageBuild(err, "writing Dockerfile")
	}
	defer os.Remove(dockerfilePath)

	var buildLog bytes.Buffer
	err := m.Client.BuildImage(docker.BuildImageOptions{
		Name:                imageName,
		Dockerfile:          filepath.Base(dockerfilePath),
		ContextDir:          m.SwapDir,
		OutputStream:        io.MultiWriter(&buildLog, logWriter{m.Logger}),
		RmTmpContainer:      true,
		ForceRmTmpContainer: true,
		NetworkMode:         "host",
		BuildArgs: []docker.BuildArg{
			{Name: "HTTP_PROXY", Value: m.ProxyHTTP},
			{Name: "HTTPS_PROXY", Value: m.ProxyHTTPS},
			{Name: "HOST_UID", Value: fmt.Sprintf("%d", os.Getuid())},
			{Name: "HOST_GID", Value: fmt.Sprintf("%d", os.Getgid())},
		},
	})
	if err != nil {
		m.Logger.Printf("environment: image build failed: %s", buildLog.String())
		return "", ferrors.ImageBuild(err, "building image %s", imageName)
	}

	if err := recordPythonVersion(m.SwapDir, repo, pythonVersion); err != nil {
		m.Logger.Printf("environment: failed to record python version for %s: %v", repo, err)
	}

	m.Logger.Printf("environment: built image %s (python %s)", imageName, pythonVersion)
	return imageName, nil
}

// Cleanup stops and removes the container when forceRemove is set;
// otherwise it is left running as a warm cache for reuse by a later
// worker on the same repo.
func (m *Manager) Cleanup(handle *ContainerHandle, forceRemove bool) error {
	if handle == nil {
		return nil
	}
	if !forceRemove {
		m.Logger.Printf("environment: leaving container %s running (warm cache)", handle.Name)
		return nil
	}
	if err := m.Client.RemoveContainer(docker.RemoveContainerOptions{ID: handle.ID, Force: true}); err != nil {
		return ferrors.ContainerOperation(err, "removing container %s", handle.Name)
	}
	m.Logger.Printf("environment: removed container %s", handle.Name)
	return nil
}

// logWriter streams build output through the manager's logger as it
// arrives, while the buffer alongside keeps the full text for error
// reporting.
type logWriter struct {
	logger *log.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Print(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}
