package dataset

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	parquet "github.com/parquet-go/parquet-go"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
)

// Type selects which dataset variant to fetch: the full, lite, or verified
// SWE-bench split.
type Type string

const (
	TypeFull     Type = "full"
	TypeLite     Type = "lite"
	TypeVerified Type = "verified"
)

// parquetRow mirrors one row of the published parquet shard. FailToPass
// and PassToPass arrive as JSON-encoded string arrays inside the parquet
// cell, matching the upstream SWE-bench schema this dataset follows.
type parquetRow struct {
	InstanceID             string `parquet:"instance_id,optional"`
	Repo                   string `parquet:"repo,optional"`
	BaseCommit             string `parquet:"base_commit,optional"`
	Patch                  string `parquet:"patch,optional"`
	TestPatch              string `parquet:"test_patch,optional"`
	ProblemStatement       string `parquet:"problem_statement,optional"`
	HintsText              string `parquet:"hints_text,optional"`
	CreatedAt              string `parquet:"created_at,optional"`
	FailToPass             string `parquet:"FAIL_TO_PASS,optional"`
	PassToPass             string `parquet:"PASS_TO_PASS,optional"`
	EnvironmentSetupCommit string `parquet:"environment_setup_commit,optional"`
}

// Fetcher downloads and caches a dataset variant from the
// princeton-nlp/SWE-bench repositories on Hugging Face Hub.
type Fetcher struct {
	CacheDir string
	Logger   *log.Logger
}

// NewFetcher builds a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Fetcher{CacheDir: cacheDir, Logger: logger}
}

func (f *Fetcher) repoAndFilename(t Type) (repoID, filename string) {
	switch t {
	case TypeLite:
		return "princeton-nlp/SWE-bench_Lite", "data/test-00000-of-00001.parquet"
	case TypeVerified:
		return "princeton-nlp/SWE-bench_Verified", "data/test-00000-of-00001.parquet"
	default:
		return "princeton-nlp/SWE-bench", "data/test-00000-of-00001.parquet"
	}
}

func (f *Fetcher) cachePath(t Type) string {
	_, filename := f.repoAndFilename(t)
	jsonName := strings.Replace(filepath.Base(filename), ".parquet", ".json", 1)
	return filepath.Join(f.CacheDir, string(t), jsonName)
}

// FetchOptions controls a Fetch call.
type FetchOptions struct {
	Dataset       Type
	ForceDownload bool
	HFToken       string
	Progress      func(msg string)
}

// Fetch downloads (or reuses a cached copy of) the requested dataset
// variant, returning it as harness.Spec records.
func (f *Fetcher) Fetch(opts FetchOptions) ([]*harness.Spec, error) {
	outputPath := f.cachePath(opts.Dataset)

	if !opts.ForceDownload {
		if cached, err := f.loadCached(outputPath); err == nil && cached != nil {
			return cached, nil
		}
	}

	repoID, filename := f.repoAndFilename(opts.Dataset)
	hfRepo := hub.New(repoID).WithType(hub.RepoTypeDataset)
	if opts.HFToken != "" {
		hfRepo = hfRepo.WithAuth(opts.HFToken)
	}

	if opts.Progress != nil {
		opts.Progress(fmt.Sprintf("fetching %s from Hugging Face", filename))
	}

	downloaded, err := hfRepo.DownloadFiles(filename)
	if err != nil {
		return nil, ferrors.SpecProcessing(err, "downloading %s from Hugging Face", repoID)
	}
	if len(downloaded) == 0 {
		return nil, ferrors.SpecProcessing(nil, "no files downloaded for %s", repoID)
	}

	specs, err := f.parseParquetFile(downloaded[0], opts.Progress)
	if err != nil {
		return nil, ferrors.SpecProcessing(err, "parsing parquet file %s", downloaded[0])
	}

	if err := f.saveToCache(outputPath, specs); err != nil {
		f.Logger.Printf("dataset: failed to save cache: %v", err)
	}

	if opts.Progress != nil {
		opts.Progress(fmt.Sprintf("downloaded %d specs", len(specs)))
	}
	return specs, nil
}

func (f *Fetcher) parseParquetFile(path string, progress func(string)) ([]*harness.Spec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, err
	}

	reader := parquet.NewGenericReader[parquetRow](pf)
	defer reader.Close()

	var specs []*harness.Spec
	const batchSize = 100
	batch := make([]parquetRow, batchSize)

	for {
		n, readErr := reader.Read(batch)
		for i := 0; i < n; i++ {
			specs = append(specs, rowToSpec(batch[i], len(specs)+1))
		}
		if progress != nil && n > 0 {
			progress(fmt.Sprintf("parsed %d specs...", len(specs)))
		}
		if n == 0 || readErr != nil {
			break
		}
	}
	return specs, nil
}

func rowToSpec(row parquetRow, number int) *harness.Spec {
	return &harness.Spec{
		InstanceID:       row.InstanceID,
		Repo:             row.Repo,
		BaseCommit:       row.BaseCommit,
		Number:           number,
		ProblemStatement: row.ProblemStatement,
		Patch:            row.Patch,
		TestPatch:        row.TestPatch,
		CreatedAt:        row.CreatedAt,
		FailToPass:       decodeJSONStringArray(row.FailToPass),
		PassToPass:       decodeJSONStringArray(row.PassToPass),
	}
}

// decodeJSONStringArray decodes a JSON-encoded string array cell (the
// upstream schema's encoding for FAIL_TO_PASS/PASS_TO_PASS) into the
// comma-separated form harness.Spec expects; falls back to the raw cell
// value when it isn't JSON.
func decodeJSONStringArray(raw string) string {
	if raw == "" {
		return ""
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return raw
	}
	return strings.Join(items, ", ")
}

func (f *Fetcher) loadCached(path string) ([]*harness.Spec, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []*harness.Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, err
	}
	f.Logger.Printf("dataset: using cached dataset %s (%d specs)", path, len(specs))
	return specs, nil
}

func (f *Fetcher) saveToCache(path string, specs []*harness.Spec) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(specs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// List returns the instance IDs of a cached dataset variant.
func (f *Fetcher) List(t Type) ([]string, error) {
	specs, err := f.loadCached(f.cachePath(t))
	if err != nil {
		return nil, err
	}
	if specs == nil {
		return nil, ferrors.SpecProcessing(nil, "dataset %s not cached; run `featbench dataset fetch` first", t)
	}
	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.InstanceID
	}
	return ids, nil
}
