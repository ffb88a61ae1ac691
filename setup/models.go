package setup

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	hub "github.com/rendeirolab/lazyslide-tutorials"
)

// ErrUnknownModel is returned by LookupModel for names not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// ModelRepo is one Hub repository a model loads at construction.
type ModelRepo struct {
	Ref hub.RepoRef

	// Revision pins the repository; empty means the default branch.
	Revision string

	// AllowPatterns limits the download to the files the model loads.
	// Empty means the whole repository.
	AllowPatterns []string
}

// Model is a catalog entry: everything a model needs cached before it can be
// constructed offline.
type Model struct {
	Name        string
	Description string
	Repos       []ModelRepo
}

var weightFiles = []string{"*.json", "*.safetensors", "*.bin", "*.py", "*.txt", "*.model"}

var catalog = map[string]Model{
	"prism": {
		Name:        "prism",
		Description: "PRISM slide-level vision-language model (Virchow tile encoder, BioGPT decoder)",
		Repos: []ModelRepo{
			{Ref: hub.NewModelRef("paige-ai/Prism"), AllowPatterns: weightFiles},
			{Ref: hub.NewModelRef("microsoft/biogpt"), AllowPatterns: []string{"*.json", "merges.txt"}},
		},
	},
	"virchow": {
		Name:        "virchow",
		Description: "Virchow tile encoder",
		Repos:       []ModelRepo{{Ref: hub.NewModelRef("paige-ai/Virchow"), AllowPatterns: weightFiles}},
	},
	"virchow2": {
		Name:        "virchow2",
		Description: "Virchow2 tile encoder",
		Repos:       []ModelRepo{{Ref: hub.NewModelRef("paige-ai/Virchow2"), AllowPatterns: weightFiles}},
	},
	"uni": {
		Name:        "uni",
		Description: "UNI tile encoder",
		Repos:       []ModelRepo{{Ref: hub.NewModelRef("MahmoodLab/UNI"), AllowPatterns: weightFiles}},
	},
	"conch": {
		Name:        "conch",
		Description: "CONCH vision-language model",
		Repos:       []ModelRepo{{Ref: hub.NewModelRef("MahmoodLab/CONCH"), AllowPatterns: weightFiles}},
	},
	"plip": {
		Name:        "plip",
		Description: "PLIP vision-language model",
		Repos:       []ModelRepo{{Ref: hub.NewModelRef("vinid/plip"), AllowPatterns: weightFiles}},
	},
}

// DefaultModelName is the model the tutorials construct.
const DefaultModelName = "prism"

// DefaultModel returns the catalog entry of DefaultModelName.
func DefaultModel() Model {
	return catalog[DefaultModelName]
}

// LookupModel returns the catalog entry for name (case-insensitive).
func LookupModel(name string) (Model, error) {
	m, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Model{}, errors.Wrapf(ErrUnknownModel, "%q (known: %s)", name, strings.Join(ModelNames(), ", "))
	}
	return m, nil
}

// ModelNames returns the catalog's model names, sorted.
func ModelNames() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WarmedModel is the handle of a constructed model: where its files live.
type WarmedModel struct {
	Name string

	// Paths maps each repository (RepoRef.String) to its snapshot directory.
	Paths map[string]string
}

// ModelWarmer constructs a model so its weights land in the default cache.
type ModelWarmer struct {
	downloader Downloader
	model      Model
	opts       options
}

// NewModelWarmer returns a step that constructs model.
func NewModelWarmer(d Downloader, model Model, opts ...Option) *ModelWarmer {
	return &ModelWarmer{downloader: d, model: model, opts: newOptions(opts)}
}

// Name implements Step.
func (w *ModelWarmer) Name() string { return "setup_models" }

// Run implements Step. The constructed model is discarded; only the cache
// side effect matters.
func (w *ModelWarmer) Run(ctx context.Context) error {
	_, err := w.Warm(ctx)
	return err
}

// Warm resolves every repository of the model into the default cache.
func (w *ModelWarmer) Warm(ctx context.Context) (*WarmedModel, error) {
	if len(w.model.Repos) == 0 {
		return nil, errors.Errorf("model %q has no repositories", w.model.Name)
	}

	handle := &WarmedModel{Name: w.model.Name, Paths: make(map[string]string, len(w.model.Repos))}
	for _, r := range w.model.Repos {
		log := w.opts.log.WithFields(logrus.Fields{"model": w.model.Name, "repo": r.Ref.String()})
		log.Info("caching model files")

		extra := []hub.DownloadOption{hub.WithAllowPatterns(r.AllowPatterns...)}
		if r.Revision != "" {
			extra = append(extra, hub.WithRevision(r.Revision))
		}
		dir, err := w.downloader.SnapshotDownload(ctx, r.Ref, w.opts.downloadOptions(nil, extra...)...)
		if err != nil {
			return nil, errors.Wrapf(err, "constructing %s", w.model.Name)
		}
		handle.Paths[r.Ref.String()] = dir
		log.WithField("path", dir).Debug("model files cached")
	}
	return handle, nil
}
