package taskproc

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weir-run/weir/internal/models"
)

// normalizeInput turns one declared input value into FileHolders ready for
// staging. Values that already name files on disk are referenced in place;
// anything else is persisted to a generated file under stageDir so it can be
// staged like a file. Collections normalize element-wise.
func normalizeInput(stageDir string, param models.InParam, value any) ([]models.FileHolder, error) {
	values, isColl := value.([]any)
	if !isColl {
		values = []any{value}
	}

	holders := make([]models.FileHolder, 0, len(values))
	for i, v := range values {
		holder, err := normalizeOne(stageDir, param.Name, i, v)
		if err != nil {
			return nil, err
		}
		holders = append(holders, holder)
	}

	names, err := expandStageNames(param.StageAs, holders)
	if err != nil {
		return nil, err
	}
	for i := range holders {
		holders[i].Param = param.Name
		holders[i].StageName = names[i]
	}
	return holders, nil
}

func normalizeOne(stageDir, paramName string, ordinal int, v any) (models.FileHolder, error) {
	if h, ok := v.(models.FileHolder); ok {
		return h, nil
	}
	if s, ok := v.(string); ok {
		if info, err := os.Stat(s); err == nil && !info.IsDir() {
			return models.FileHolder{Source: v, StorePath: s}, nil
		}
	}

	// Not a file: persist the rendered value.
	path := filepath.Join(stageDir, fmt.Sprintf("%s-%d.val", paramName, ordinal))
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return models.FileHolder{}, fmt.Errorf("creating stage dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprint(v)), 0644); err != nil {
		return models.FileHolder{}, fmt.Errorf("persisting input %s: %w", paramName, err)
	}
	return models.FileHolder{Source: v, StorePath: path}, nil
}

// expandStageNames resolves the staged filename for each holder from a
// wildcard pattern.
//
// Rules: a bare * with one file keeps the file's own name; a bare * with N
// files numbers them sequentially from 1. A run of ? is replaced by a
// zero-padded sequence number of the run's length. A pattern with neither
// wildcard names a single file verbatim, and with multiple files behaves as
// if a trailing * had been appended.
func expandStageNames(pattern string, holders []models.FileHolder) ([]string, error) {
	names := make([]string, len(holders))

	if pattern == "" {
		for i, h := range holders {
			names[i] = filepath.Base(h.StorePath)
		}
		return names, nil
	}

	hasStar := strings.Contains(pattern, "*")
	hasQuery := strings.Contains(pattern, "?")

	switch {
	case pattern == "*":
		if len(holders) == 1 {
			names[0] = filepath.Base(holders[0].StorePath)
			return names, nil
		}
		for i := range holders {
			names[i] = strconv.Itoa(i + 1)
		}
		return names, nil

	case hasQuery:
		run := longestQueryRun(pattern)
		for i := range holders {
			seq := fmt.Sprintf("%0*d", run.length, i+1)
			if len(seq) > run.length {
				return nil, fmt.Errorf("stage pattern %q cannot number %d files", pattern, len(holders))
			}
			names[i] = pattern[:run.start] + seq + pattern[run.start+run.length:]
		}
		return names, nil

	case hasStar:
		for i := range holders {
			names[i] = strings.Replace(pattern, "*", strconv.Itoa(i+1), 1)
		}
		return names, nil

	default:
		if len(holders) == 1 {
			names[0] = pattern
			return names, nil
		}
		// Forced fan-out naming.
		return expandStageNames(pattern+"*", holders)
	}
}

type queryRun struct {
	start  int
	length int
}

// longestQueryRun finds the first longest run of ? characters in pattern.
func longestQueryRun(pattern string) queryRun {
	best := queryRun{}
	i := 0
	for i < len(pattern) {
		if pattern[i] != '?' {
			i++
			continue
		}
		start := i
		for i < len(pattern) && pattern[i] == '?' {
			i++
		}
		if i-start > best.length {
			best = queryRun{start: start, length: i - start}
		}
	}
	return best
}

// stageFiles copies the normalized inputs into the working directory under
// their stage names.
func stageFiles(workDir string, holders []models.FileHolder) error {
	for _, h := range holders {
		dst := filepath.Join(workDir, h.StageName)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("staging %s: %w", h.StageName, err)
		}
		if err := copyFile(h.StorePath, dst); err != nil {
			return fmt.Errorf("staging %s: %w", h.StageName, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
