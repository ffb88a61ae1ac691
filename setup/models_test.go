package setup_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	hub "github.com/rendeirolab/lazyslide-tutorials"
	"github.com/rendeirolab/lazyslide-tutorials/internal/hubtest"
	"github.com/rendeirolab/lazyslide-tutorials/setup"
	"github.com/rendeirolab/lazyslide-tutorials/setup/mocks"
)

func TestLookupModel(t *testing.T) {
	m, err := setup.LookupModel(" PRISM ")
	require.NoError(t, err)
	assert.Equal(t, "prism", m.Name)
	require.NotEmpty(t, m.Repos)
	assert.Equal(t, hub.NewModelRef("paige-ai/Prism"), m.Repos[0].Ref)

	_, err = setup.LookupModel("gigapath-xl")
	assert.ErrorIs(t, err, setup.ErrUnknownModel)
	assert.Contains(t, err.Error(), "prism")
}

func TestModelNames(t *testing.T) {
	names := setup.ModelNames()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, setup.DefaultModelName)
	assert.Equal(t, setup.DefaultModelName, setup.DefaultModel().Name)
}

func TestModelWarmerWarm(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mocks.NewMockDownloader(ctrl)

	model := setup.Model{
		Name: "prism",
		Repos: []setup.ModelRepo{
			{Ref: hub.NewModelRef("paige-ai/Prism")},
			{Ref: hub.NewModelRef("microsoft/biogpt"), Revision: "v1"},
		},
	}
	gomock.InOrder(
		d.EXPECT().SnapshotDownload(gomock.Any(), model.Repos[0].Ref, gomock.Any()).Return("/cache/prism", nil),
		d.EXPECT().SnapshotDownload(gomock.Any(), model.Repos[1].Ref, gomock.Any()).Return("/cache/biogpt", nil),
	)

	warmer := setup.NewModelWarmer(d, model)
	assert.Equal(t, "setup_models", warmer.Name())

	handle, err := warmer.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prism", handle.Name)
	assert.Equal(t, map[string]string{
		"model:paige-ai/Prism":   "/cache/prism",
		"model:microsoft/biogpt": "/cache/biogpt",
	}, handle.Paths)
}

func TestModelWarmerPropagatesFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mocks.NewMockDownloader(ctrl)

	model := setup.DefaultModel()
	d.EXPECT().
		SnapshotDownload(gomock.Any(), model.Repos[0].Ref, gomock.Any()).
		Return("", errors.Wrap(hub.ErrGatedRepo, "paige-ai/Prism"))
	// The remaining repositories are never requested.

	err := setup.NewModelWarmer(d, model).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, hub.ErrGatedRepo)
	assert.Contains(t, err.Error(), "constructing prism")
}

func TestModelWarmerEmptyModel(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mocks.NewMockDownloader(ctrl)

	_, err := setup.NewModelWarmer(d, setup.Model{Name: "empty"}).Warm(context.Background())
	assert.Error(t, err)
}

func TestModelWarmerCachesWeights(t *testing.T) {
	prism := &hubtest.Repo{
		Type:   "model",
		ID:     "paige-ai/Prism",
		Commit: "1111111111111111111111111111111111111111",
		Files: map[string]hubtest.File{
			"config.json":       {Content: []byte(`{"architectures": ["Prism"]}`)},
			"model.safetensors": {Content: []byte("weights"), LFS: true},
			"modeling_prism.py": {Content: []byte("class Prism: pass\n")},
			"assets/figure.png": {Content: []byte("png")},
		},
	}
	biogpt := &hubtest.Repo{
		Type:   "model",
		ID:     "microsoft/biogpt",
		Commit: "2222222222222222222222222222222222222222",
		Files: map[string]hubtest.File{
			"config.json":       {Content: []byte(`{"model_type": "biogpt"}`)},
			"vocab.json":        {Content: []byte(`{"<s>": 0}`)},
			"merges.txt":        {Content: []byte("a b\n")},
			"pytorch_model.bin": {Content: []byte("decoder weights"), LFS: true},
		},
	}
	srv := hubtest.NewServer(t, prism, biogpt)
	cache := t.TempDir()
	mgr := newManager(t, srv, cache)

	handle, err := setup.NewModelWarmer(mgr, setup.DefaultModel()).Warm(context.Background())
	require.NoError(t, err)

	prismDir := handle.Paths["model:paige-ai/Prism"]
	assert.Equal(t, filepath.Join(cache, "models--paige-ai--Prism", "snapshots", prism.Commit), prismDir)
	assert.FileExists(t, filepath.Join(prismDir, "model.safetensors"))
	assert.FileExists(t, filepath.Join(prismDir, "modeling_prism.py"))
	assert.NoFileExists(t, filepath.Join(prismDir, "assets", "figure.png"))

	biogptDir := handle.Paths["model:microsoft/biogpt"]
	assert.FileExists(t, filepath.Join(biogptDir, "vocab.json"))
	assert.FileExists(t, filepath.Join(biogptDir, "merges.txt"))
	_, err = os.Stat(filepath.Join(biogptDir, "pytorch_model.bin"))
	assert.True(t, os.IsNotExist(err), "decoder weights are loaded from the Prism checkpoint")

	// Warming again reuses the cache.
	downloads := srv.TotalDownloads()
	require.NoError(t, setup.NewModelWarmer(mgr, setup.DefaultModel()).Run(context.Background()))
	assert.Equal(t, downloads, srv.TotalDownloads())
}
