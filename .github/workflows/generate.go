package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type PushTrigger struct {
	Branches []string `yaml:"branches,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

type Trigger struct {
	Push PushTrigger `yaml:"push,omitempty"`
}

type Args map[string]interface{}

type Step struct {
	Name string `yaml:"name,omitempty"`
	If   string `yaml:"if,omitempty"`
	Uses string `yaml:"uses,omitempty"`
	ID   string `yaml:"id,omitempty"`
	Run  string `yaml:"run,omitempty"`
	With Args   `yaml:"with,omitempty"`
}

type Service struct {
	Image   string            `yaml:"image"`
	Env     map[string]string `yaml:"env,omitempty"`
	Ports   []string          `yaml:"ports,omitempty"`
	Options string            `yaml:"options,omitempty"`
}

type Job struct {
	RunsOn   string             `yaml:"runs-on"`
	Needs    []string           `yaml:"needs,omitempty"`
	Services map[string]Service `yaml:"services,omitempty"`
	Env      map[string]string  `yaml:"env,omitempty"`
	Steps    []Step             `yaml:"steps"`
}

type Workflow struct {
	Name string  `yaml:"name"`
	On   Trigger `yaml:"on,omitempty"`
	Jobs map[string]Job
}

// WorkflowCI runs the test suite on every push, including the postgres
// block store tests, and publishes each image once the tests pass.
func WorkflowCI(images ...*Image) Workflow {
	jobs := make(map[string]Job, len(images)+1)
	jobs["test"] = JobTest()
	for _, image := range images {
		job := JobRelease(image)
		job.Needs = []string{"test"}
		jobs[image.Name] = job
	}
	return Workflow{
		Name: "ci",
		On: Trigger{
			Push: PushTrigger{
				Branches: []string{"*"},
				Tags:     []string{"*"},
			},
		},
		Jobs: jobs,
	}
}

// JobTest runs `go test` against a postgres service container. The
// PG_* variables are the ones blockstore.OpenPGEnv reads.
func JobTest() Job {
	return Job{
		RunsOn: "ubuntu-latest",
		Services: map[string]Service{
			"postgres": {
				Image: "postgres:14",
				Env:   map[string]string{"POSTGRES_PASSWORD": "postgres"},
				Ports: []string{"5432:5432"},
				Options: "--health-cmd pg_isready --health-interval 10s " +
					"--health-timeout 5s --health-retries 5",
			},
		},
		Env: map[string]string{
			"PG_HOST": "localhost",
			"PG_PORT": "5432",
			"PG_USER": "postgres",
			"PG_PASS": "postgres",
		},
		Steps: []Step{{
			Name: "Checkout",
			Uses: "actions/checkout@v2",
		}, {
			Name: "Set up Go",
			Uses: "actions/setup-go@v3",
			With: Args{"go-version": "1.18"},
		}, {
			Name: "Vet",
			Run:  "go vet ./...",
		}, {
			Name: "Test",
			Run:  "go test -race ./...",
		}},
	}
}

type Image struct {
	// The job name and the github-username-prefixed image name, e.g.
	// `weberc2/blockfs`.
	Name string

	// The path to the Dockerfile relative to the repo root.
	Dockerfile string

	// The path to the build context relative to the repo root.
	Context string

	// The build arguments.
	Args map[string]string
}

// GoImage builds ./cmd/<target> with the shared Go Dockerfile.
func GoImage(target string) *Image {
	return &Image{
		Name:       target,
		Context:    ".",
		Dockerfile: "./docker/Dockerfile",
		Args:       map[string]string{"TARGET": "./cmd/" + target},
	}
}

func JobRelease(image *Image) Job {
	return Job{
		RunsOn: "ubuntu-latest",
		Steps: []Step{{
			Name: "Checkout",
			Uses: "actions/checkout@v2",
		}, {
			Name: "Prepare",
			ID:   "prep",
			Run: fmt.Sprintf(`DOCKER_IMAGE=${{ secrets.DOCKER_USERNAME }}/%s
VERSION=latest
SHORTREF=${GITHUB_SHA::8}

# If this is a git tag, use the tag name as a docker tag
if [[ $GITHUB_REF == refs/tags/* ]]; then
  VERSION=${GITHUB_REF#refs/tags/v}
fi
TAGS="${DOCKER_IMAGE}:${VERSION},${DOCKER_IMAGE}:${SHORTREF}"

# If the VERSION looks like a version number, assume that
# this is the most recent version of the image and also
# tag it 'latest'.
if [[ $VERSION =~ ^[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}$ ]]; then
  TAGS="$TAGS,${DOCKER_IMAGE}:latest"
fi

# Set output parameters.
echo ::set-output name=tags::${TAGS}
echo ::set-output name=docker_image::${DOCKER_IMAGE}`, image.Name),
		}, {
			Name: "Set up QEMU",
			Uses: "docker/setup-qemu-action@master",
			With: Args{"platforms": "all"},
		}, {
			Name: "Set up Docker Buildx",
			ID:   "buildx",
			Uses: "docker/setup-buildx-action@master",
		}, {
			Name: "Login to DockerHub",
			If:   "github.event_name != 'pull_request'",
			Uses: "docker/login-action@v1",
			With: Args{
				"username": "${{ secrets.DOCKER_USERNAME }}",
				"password": "${{ secrets.DOCKER_PASSWORD }}",
			},
		}, {
			Name: "Build",
			Uses: "docker/build-push-action@v2",
			With: Args{
				"builder": "${{ steps.buildx.outputs.name }}",
				"build-args": func() string {
					lines := make([]string, 0, len(image.Args))
					for key, value := range image.Args {
						lines = append(lines, fmt.Sprintf("%s=%s", key, value))
					}
					return strings.Join(lines, "\n")
				}(),
				"context":    image.Context,
				"file":       image.Dockerfile,
				"platforms":  "linux/amd64,linux/arm64",
				"push":       true,
				"tags":       "${{ steps.prep.outputs.tags }}",
				"cache-from": "type=gha, scope=${{ github.workflow }}",
				"cache-to":   "type=gha, scope=${{ github.workflow }}",
			},
		}},
	}
}

func MarshalToWriter(w io.Writer, v interface{}) error {
	yamlEncoder := yaml.NewEncoder(w)
	yamlEncoder.SetIndent(2)
	if err := yamlEncoder.Encode(v); err != nil {
		return fmt.Errorf("marshaling to YAML: %w", err)
	}
	return nil
}

func main() {
	if err := MarshalToWriter(os.Stdout, WorkflowCI(GoImage("blockfs"))); err != nil {
		log.Fatalf("marshaling ci workflow: %v", err)
	}
}
