package hub

import (
	"errors"
	"testing"
)

func TestParseRepoType(t *testing.T) {
	tests := []struct {
		in      string
		want    RepoType
		wantErr bool
	}{
		{"", RepoTypeModel, false},
		{"model", RepoTypeModel, false},
		{"models", RepoTypeModel, false},
		{"dataset", RepoTypeDataset, false},
		{"Datasets", RepoTypeDataset, false},
		{"space", RepoTypeSpace, false},
		{"repo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepoType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRepoType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRepoType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRepoRef(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		defaultType RepoType
		want        RepoRef
		wantErr     bool
	}{
		{
			name:        "plain id uses default type",
			in:          "rendeirolab/lazyslide-data",
			defaultType: RepoTypeDataset,
			want:        RepoRef{ID: "rendeirolab/lazyslide-data", Type: RepoTypeDataset},
		},
		{
			name: "empty default type is model",
			in:   "paige-ai/Prism",
			want: RepoRef{ID: "paige-ai/Prism", Type: RepoTypeModel},
		},
		{
			name:        "type prefix with colon",
			in:          "dataset:rendeirolab/lazyslide-data",
			defaultType: RepoTypeModel,
			want:        RepoRef{ID: "rendeirolab/lazyslide-data", Type: RepoTypeDataset},
		},
		{
			name:        "url style prefix",
			in:          "datasets/rendeirolab/lazyslide-data",
			defaultType: RepoTypeModel,
			want:        RepoRef{ID: "rendeirolab/lazyslide-data", Type: RepoTypeDataset},
		},
		{
			name: "legacy bare name",
			in:   "gpt2",
			want: RepoRef{ID: "gpt2", Type: RepoTypeModel},
		},
		{name: "empty", in: "", wantErr: true},
		{name: "too many segments", in: "a/b/c", wantErr: true},
		{name: "unknown colon type", in: "repo:a/b", wantErr: true},
		{name: "traversal", in: "../etc", wantErr: true},
		{name: "double dash", in: "org/na--me", wantErr: true},
		{name: "empty name", in: "org/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRepoRef(tt.in, tt.defaultType)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRef) {
					t.Fatalf("ParseRepoRef(%q) error = %v, want ErrInvalidRef", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepoRef(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseRepoRef(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRepoRefFolderName(t *testing.T) {
	tests := []struct {
		ref  RepoRef
		want string
	}{
		{NewDatasetRef("rendeirolab/lazyslide-data"), "datasets--rendeirolab--lazyslide-data"},
		{NewModelRef("paige-ai/Prism"), "models--paige-ai--Prism"},
		{RepoRef{ID: "gpt2"}, "models--gpt2"},
		{RepoRef{ID: "org/app", Type: RepoTypeSpace}, "spaces--org--app"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.ref.folderName(); got != tt.want {
				t.Errorf("folderName() = %q, want %q", got, tt.want)
			}
			back, ok := parseFolderName(tt.want)
			if !ok {
				t.Fatalf("parseFolderName(%q) failed", tt.want)
			}
			if back.ID != tt.ref.ID || back.repoType() != tt.ref.repoType() {
				t.Errorf("parseFolderName(%q) = %+v, want %+v", tt.want, back, tt.ref)
			}
		})
	}
}

func TestParseFolderNameRejectsOtherDirs(t *testing.T) {
	for _, name := range []string{".locks", "version.txt", "model--x--y", "stuff"} {
		if _, ok := parseFolderName(name); ok {
			t.Errorf("parseFolderName(%q) = ok, want rejection", name)
		}
	}
}

func TestRepoRefString(t *testing.T) {
	if got := NewDatasetRef("org/data").String(); got != "dataset:org/data" {
		t.Errorf("String() = %q", got)
	}
	if got := (RepoRef{ID: "gpt2"}).String(); got != "model:gpt2" {
		t.Errorf("String() = %q", got)
	}
}

func TestRepoTypeURLPrefix(t *testing.T) {
	if got := RepoTypeModel.urlPrefix(); got != "" {
		t.Errorf("model urlPrefix() = %q, want empty", got)
	}
	if got := RepoTypeDataset.urlPrefix(); got != "datasets/" {
		t.Errorf("dataset urlPrefix() = %q", got)
	}
	if got := RepoTypeSpace.urlPrefix(); got != "spaces/" {
		t.Errorf("space urlPrefix() = %q", got)
	}
}

func TestRepoInfoTotalSize(t *testing.T) {
	info := RepoInfo{Files: []FileInfo{{Size: 10}, {Size: 32}}}
	if got := info.TotalSize(); got != 42 {
		t.Errorf("TotalSize() = %d, want 42", got)
	}
}
