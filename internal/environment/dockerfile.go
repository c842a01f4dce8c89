package environment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/sjson"
)

const (
	defaultPythonVersion         = "3.10"
	recommendedPythonVersionFile = "recommended_python_version.json"
)

// dockerfileTemplate bakes in proxy build args and the host UID/GID, and
// creates a featbench user with those IDs. It sets no USER, so commands
// in the container run as root.
const dockerfileTemplate = `FROM python:%[1]s-slim

ARG HTTP_PROXY
ARG HTTPS_PROXY
ARG HOST_UID=1000
ARG HOST_GID=1000

ENV HTTP_PROXY=${HTTP_PROXY}
ENV HTTPS_PROXY=${HTTPS_PROXY}
ENV HOST_UID=${HOST_UID}
ENV HOST_GID=${HOST_GID}

RUN apt-get update && apt-get install -y --no-install-recommends \
        git curl patch build-essential ca-certificates \
    && rm -rf /var/lib/apt/lists/*

RUN pip install --no-cache-dir pytest pytest-xdist pytest-timeout

RUN groupadd -g ${HOST_GID} featbench || true \
    && useradd -m -u ${HOST_UID} -g ${HOST_GID} featbench || true

WORKDIR /workdir
RUN mkdir -p /workdir/swap /logs
`

// readPythonVersion reads the per-repo recommended Python version from
// swap/recommended_python_version.json (keyed by owner_name), falling
// back to a default on any error (missing file, malformed JSON, missing
// key).
func readPythonVersion(swapDir, repo string) string {
	versionFile := filepath.Join(swapDir, recommendedPythonVersionFile)

	data, err := os.ReadFile(versionFile)
	if err != nil {
		return defaultPythonVersion
	}

	var versions map[string]string
	if err := json.Unmarshal(data, &versions); err != nil {
		return defaultPythonVersion
	}
	if v, ok := versions[setupFilesKey(repo)]; ok && v != "" {
		return v
	}
	return defaultPythonVersion
}

// recordPythonVersion persists the version a successful build actually
// used, so later runs resolve it explicitly instead of falling back.
// The manifest is rewritten in place, one key at a time.
func recordPythonVersion(swapDir, repo, version string) error {
	path := filepath.Join(swapDir, recommendedPythonVersionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		data = []byte("{}")
	}
	key := strings.ReplaceAll(setupFilesKey(repo), ".", `\.`)
	updated, err := sjson.SetBytes(data, key, version)
	if err != nil {
		return err
	}
	return os.WriteFile(path, updated, 0o644)
}

func generateDockerfile(pythonVersion string) string {
	return fmt.Sprintf(dockerfileTemplate, pythonVersion)
}

func imageNameForPythonVersion(pythonVersion string) string {
	return "featbench_" + pythonVersion
}
