package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	hub "github.com/rendeirolab/lazyslide-tutorials"
	"github.com/rendeirolab/lazyslide-tutorials/internal/hubtest"
	"github.com/rendeirolab/lazyslide-tutorials/setup"
	"github.com/rendeirolab/lazyslide-tutorials/setup/mocks"
)

func execute(t *testing.T, cfg hub.Config, build stepBuilder, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := newRootCommand(cfg, build)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func stepsOf(steps ...setup.Step) stepBuilder {
	return func(hub.Config, *options, io.Writer, *logrus.Logger) ([]setup.Step, error) {
		return steps, nil
	}
}

func testConfig(t *testing.T) hub.Config {
	return hub.Config{Endpoint: hub.DefaultEndpoint, CacheDir: t.TempDir()}
}

func TestRootCommandSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	data := mocks.NewMockStep(ctrl)
	models := mocks.NewMockStep(ctrl)
	data.EXPECT().Name().Return("setup_data").AnyTimes()
	models.EXPECT().Name().Return("setup_models").AnyTimes()
	gomock.InOrder(
		data.EXPECT().Run(gomock.Any()).Return(nil),
		models.EXPECT().Run(gomock.Any()).Return(nil),
	)

	stdout, _, err := execute(t, testConfig(t), stepsOf(data, models))
	require.NoError(t, err)
	assert.Equal(t, "Environment setup complete.\n", stdout)
	assert.Equal(t, ExitSuccess, exitCodeFromError(err))
}

func TestRootCommandDataFailureSkipsModels(t *testing.T) {
	ctrl := gomock.NewController(t)
	data := mocks.NewMockStep(ctrl)
	models := mocks.NewMockStep(ctrl)
	data.EXPECT().Name().Return("setup_data").AnyTimes()
	models.EXPECT().Name().Return("setup_models").AnyTimes()
	data.EXPECT().Run(gomock.Any()).Return(errors.Wrap(hub.ErrNetworkError, "dial tcp: connection refused"))

	stdout, _, err := execute(t, testConfig(t), stepsOf(data, models))
	require.Error(t, err)
	assert.Empty(t, stdout)
	assert.Equal(t, ExitNetworkError, exitCodeFromError(err))
}

func TestRootCommandRejectsArgs(t *testing.T) {
	_, _, err := execute(t, testConfig(t), stepsOf(), "--concurrency", "many")
	require.Error(t, err)
	assert.Equal(t, ExitInvalidArgs, exitCodeFromError(err))
}

func TestRootCommandHasHubSubcommand(t *testing.T) {
	cmd := newRootCommand(testConfig(t), stepsOf())
	sub, _, err := cmd.Find([]string{"hub", "list"})
	require.NoError(t, err)
	assert.Equal(t, "list", sub.Name())

	for _, name := range []string{
		"tutorials-dir", "cache-dir", "dataset", "model", "revision",
		"concurrency", "skip-data", "skip-models", "quiet", "verbose", "debug",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag --%s", name)
	}
}

func TestModelUsageListsCatalog(t *testing.T) {
	usage := newRootCommand(testConfig(t), stepsOf()).Flags().Lookup("model").Usage
	for _, name := range setup.ModelNames() {
		m, err := setup.LookupModel(name)
		require.NoError(t, err)
		assert.Contains(t, usage, name+": "+m.Description)
	}
}

func TestHubSubcommandLogging(t *testing.T) {
	dataset := &hubtest.Repo{
		Type:   "dataset",
		ID:     "rendeirolab/lazyslide-data",
		Commit: "0123456789abcdef0123456789abcdef01234567",
		Files:  map[string]hubtest.File{"README.md": {Content: []byte("# data\n")}},
	}
	srv := hubtest.NewServer(t, dataset)

	download := func(extra ...string) string {
		cfg := hub.Config{Endpoint: srv.URL, CacheDir: t.TempDir()}
		args := append([]string{"hub", "download", "--repo-type", "dataset", "-q"}, extra...)
		args = append(args, "rendeirolab/lazyslide-data")
		_, stderr, err := execute(t, cfg, stepsOf(), args...)
		require.NoError(t, err)
		return stderr
	}

	assert.NotContains(t, download(), "snapshot ready")
	assert.Contains(t, download("--verbose"), "snapshot ready")
}

func TestOptionsLogLevel(t *testing.T) {
	assert.Equal(t, "warn", (&options{}).logLevel())
	assert.Equal(t, "info", (&options{verbose: true}).logLevel())
	assert.Equal(t, "debug", (&options{verbose: true, debug: true}).logLevel())
}

func TestBuildSteps(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := testConfig(t)

	base := func() *options {
		return &options{
			tutorialsDir: t.TempDir(),
			dataset:      setup.DefaultDataset.ID,
			model:        setup.DefaultModelName,
			revision:     hub.DefaultRevision,
			concurrency:  hub.DefaultConcurrency,
		}
	}

	t.Run("default runs data then models", func(t *testing.T) {
		steps, err := buildSteps(cfg, base(), io.Discard, log)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "setup_data", steps[0].Name())
		assert.Equal(t, "setup_models", steps[1].Name())
	})

	t.Run("skip data", func(t *testing.T) {
		o := base()
		o.skipData = true
		steps, err := buildSteps(cfg, o, io.Discard, log)
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, "setup_models", steps[0].Name())
	})

	t.Run("skip everything warns", func(t *testing.T) {
		o := base()
		o.skipData, o.skipModels = true, true
		var stderr bytes.Buffer
		steps, err := buildSteps(cfg, o, &stderr, log)
		require.NoError(t, err)
		assert.Empty(t, steps)
		assert.Contains(t, stderr.String(), "nothing to do")
	})

	t.Run("unknown model", func(t *testing.T) {
		o := base()
		o.model = "resnet"
		_, err := buildSteps(cfg, o, io.Discard, log)
		require.Error(t, err)
		assert.ErrorIs(t, err, setup.ErrUnknownModel)
		assert.Equal(t, ExitInvalidArgs, exitCodeFromError(err))
	})

	t.Run("invalid dataset", func(t *testing.T) {
		o := base()
		o.dataset = "a/b/c/d"
		_, err := buildSteps(cfg, o, io.Discard, log)
		require.Error(t, err)
		assert.Equal(t, ExitInvalidArgs, exitCodeFromError(err))
	})
}

func TestEndToEnd(t *testing.T) {
	dataset := &hubtest.Repo{
		Type:   "dataset",
		ID:     "rendeirolab/lazyslide-data",
		Commit: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Files: map[string]hubtest.File{
			"README.md":  {Content: []byte("# data\n")},
			"sample.svs": {Content: []byte("slide bytes"), LFS: true},
		},
	}
	prism := &hubtest.Repo{
		Type:   "model",
		ID:     "paige-ai/Prism",
		Commit: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Files: map[string]hubtest.File{
			"config.json":       {Content: []byte(`{}`)},
			"model.safetensors": {Content: []byte("weights"), LFS: true},
		},
	}
	biogpt := &hubtest.Repo{
		Type:   "model",
		ID:     "microsoft/biogpt",
		Commit: "cccccccccccccccccccccccccccccccccccccccc",
		Files: map[string]hubtest.File{
			"vocab.json": {Content: []byte(`{}`)},
			"merges.txt": {Content: []byte("a b\n")},
		},
	}
	srv := hubtest.NewServer(t, dataset, prism, biogpt)

	cache := t.TempDir()
	tutorials := filepath.Join(t.TempDir(), "tutorials")
	cfg := hub.Config{Endpoint: srv.URL, CacheDir: cache}

	stdout, _, err := execute(t, cfg, buildSteps, "--tutorials-dir", tutorials, "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "Environment setup complete.\n", stdout)

	for _, root := range []string{cache, tutorials} {
		got, err := os.ReadFile(filepath.Join(root, "datasets--rendeirolab--lazyslide-data", "snapshots", dataset.Commit, "sample.svs"))
		require.NoError(t, err)
		assert.Equal(t, "slide bytes", string(got))
	}
	assert.FileExists(t, filepath.Join(cache, "models--paige-ai--Prism", "snapshots", prism.Commit, "model.safetensors"))
	assert.FileExists(t, filepath.Join(cache, "models--microsoft--biogpt", "snapshots", biogpt.Commit, "merges.txt"))
	assert.NoDirExists(t, filepath.Join(tutorials, "models--paige-ai--Prism"))

	// A second run finds everything cached.
	downloads := srv.TotalDownloads()
	stdout, _, err = execute(t, cfg, buildSteps, "--tutorials-dir", tutorials)
	require.NoError(t, err)
	assert.Equal(t, "Environment setup complete.\n", stdout)
	assert.Equal(t, downloads, srv.TotalDownloads())
}

func TestEndToEndMissingModel(t *testing.T) {
	dataset := &hubtest.Repo{
		Type:   "dataset",
		ID:     "rendeirolab/lazyslide-data",
		Commit: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Files:  map[string]hubtest.File{"README.md": {Content: []byte("# data\n")}},
	}
	srv := hubtest.NewServer(t, dataset)
	cfg := hub.Config{Endpoint: srv.URL, CacheDir: t.TempDir()}

	stdout, _, err := execute(t, cfg, buildSteps, "--tutorials-dir", filepath.Join(t.TempDir(), "tutorials"))
	require.Error(t, err)
	assert.Empty(t, stdout)
	assert.ErrorIs(t, err, hub.ErrRepoNotFound)
	assert.Equal(t, ExitNotFound, exitCodeFromError(err))
}

func TestExitCodeFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"generic", errors.New("boom"), ExitGeneralError},
		{"usage", usageError{errors.New("bad flag")}, ExitInvalidArgs},
		{"invalid ref", hub.ErrInvalidRef, ExitInvalidArgs},
		{"repo not found", errors.Wrap(hub.ErrRepoNotFound, "setup_data"), ExitNotFound},
		{"revision not found", hub.ErrRevisionNotFound, ExitNotFound},
		{"entry not found", hub.ErrEntryNotFound, ExitNotFound},
		{"unauthorized", hub.ErrUnauthorized, ExitAuthError},
		{"gated", errors.Wrap(hub.ErrGatedRepo, "constructing prism"), ExitAuthError},
		{"network", hub.ErrNetworkError, ExitNetworkError},
		{"offline", hub.ErrOffline, ExitNetworkError},
		{"hash", hub.ErrHashMismatch, ExitHashMismatch},
		{"storage", hub.ErrStorageError, ExitStorageError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFromError(tt.err))
		})
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.Wrap(hub.ErrGatedRepo, "constructing prism"))
	assert.Contains(t, buf.String(), "Error: constructing prism")
	assert.Contains(t, buf.String(), "HF_TOKEN")
}
