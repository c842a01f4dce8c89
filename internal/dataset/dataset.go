// Package dataset loads evaluation specs from a local JSON file or a
// remote Hugging Face dataset, and standardizes their patch/test_patch
// fields (which may arrive as a unified-diff string or as an array of
// per-file patch records) into a single diff string.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

// Load reads a JSON array of spec records from path, standardizing each
// record's patch/test_patch fields into unified-diff strings regardless
// of whether the source encoded them as strings or per-file arrays.
func Load(path string) ([]*harness.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.FileOperation(err, "reading dataset file %s", path)
	}
	return Parse(data)
}

// Parse decodes a JSON array of spec records from raw bytes.
func Parse(data []byte) ([]*harness.Spec, error) {
	if !gjson.ValidBytes(data) {
		return nil, ferrors.SpecProcessing(nil, "dataset is not valid JSON")
	}

	result := gjson.ParseBytes(data)
	if !result.IsArray() {
		return nil, ferrors.SpecProcessing(nil, "dataset must be a JSON array of spec records")
	}

	var specs []*harness.Spec
	var parseErr error
	result.ForEach(func(_, value gjson.Result) bool {
		spec, err := recordToSpec(value)
		if err != nil {
			parseErr = err
			return false
		}
		specs = append(specs, spec)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return specs, nil
}

func recordToSpec(value gjson.Result) (*harness.Spec, error) {
	number := 0
	if n := value.Get("number"); n.Exists() {
		number = int(n.Int())
	}

	patchStr, err := standardizeDiffField(value.Get("patch"))
	if err != nil {
		return nil, ferrors.SpecProcessing(err, "standardizing patch field for instance %s", value.Get("instance_id").String())
	}
	testPatchStr, err := standardizeDiffField(value.Get("test_patch"))
	if err != nil {
		return nil, ferrors.SpecProcessing(err, "standardizing test_patch field for instance %s", value.Get("instance_id").String())
	}

	var testFiles []string
	if tf := value.Get("test_files"); tf.IsArray() {
		for _, f := range tf.Array() {
			testFiles = append(testFiles, f.String())
		}
	}

	return &harness.Spec{
		InstanceID:       value.Get("instance_id").String(),
		Repo:             value.Get("repo").String(),
		BaseCommit:       value.Get("base_commit").String(),
		Number:           number,
		ProblemStatement: value.Get("problem_statement").String(),
		Patch:            patchStr,
		TestPatch:        testPatchStr,
		TestFiles:        testFiles,
		CreatedAt:        value.Get("created_at").String(),
		FailToPass:       standardizeTestList(value.Get("FAIL_TO_PASS")),
		PassToPass:       standardizeTestList(value.Get("PASS_TO_PASS")),
		Processed:        value.Get("processed").Bool(),
	}, nil
}

// standardizeDiffField accepts either a unified-diff string or a JSON
// array of per-file patch records and returns a single diff string,
// rebuilding per-file records via patch.RebuildDiff (the same synthetic
// header logic the patch engine itself uses).
func standardizeDiffField(field gjson.Result) (string, error) {
	if !field.Exists() || field.Type == gjson.Null {
		return "", nil
	}
	if field.IsArray() {
		var sb strings.Builder
		for _, item := range field.Array() {
			info := harness.PatchInfo{
				Filename:     item.Get("filename").String(),
				Status:       harness.PatchStatus(item.Get("status").String()),
				PatchContent: item.Get("patch").String(),
				OldFilename:  item.Get("old_filename").String(),
			}
			info.IsTestFile = patch.IsTestFile(info.Filename)
			sb.WriteString(patch.RebuildDiff(info))
		}
		return sb.String(), nil
	}
	return field.String(), nil
}

// standardizeTestList accepts either a JSON array of test names or a
// comma-separated string, returning the comma-separated form
// harness.Spec.FailToPassTests/PassToPassTests expect.
func standardizeTestList(field gjson.Result) string {
	if !field.Exists() {
		return ""
	}
	if field.IsArray() {
		var names []string
		for _, item := range field.Array() {
			names = append(names, item.String())
		}
		return strings.Join(names, ", ")
	}
	return field.String()
}

// MarshalResults writes result records as a UTF-8 JSON array, the
// "results/<base>_<timestamp>_<model>.json" artifact the scheduler
// produces.
func MarshalResults(results []*harness.EvalResult) ([]byte, error) {
	return json.MarshalIndent(results, "", "  ")
}

// ResultFileName builds the canonical result file name for a base dataset
// name, timestamp (YYYYmmdd-HHMMSS), and a sanitized model name.
func ResultFileName(base, timestamp, model string) string {
	sanitized := sanitizeModelName(model)
	return fmt.Sprintf("%s_%s_%s.json", base, timestamp, sanitized)
}

func sanitizeModelName(model string) string {
	var sb strings.Builder
	for _, r := range model {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return sb.String()
}
