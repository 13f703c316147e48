package pipeline

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ans-consolidator/internal/fetcher"
	"github.com/sells-group/ans-consolidator/internal/ledger"
)

// ArchiveSource yields local ZIP archives for one quarter.
type ArchiveSource interface {
	// Fetch returns local paths of the quarter's archives.
	Fetch(ctx context.Context, p ledger.Period) ([]string, error)

	// Release is called once the engine is done with an archive returned by Fetch.
	Release(path string) error
}

var periodInName = regexp.MustCompile(`(?i)(?:([1-4])t(\d{4})|(\d{4})[-_]?q([1-4]))`)

// periodFromName finds a quarter token ("1T2024", "2024Q1", "2024_q1") in name.
func periodFromName(name string) (ledger.Period, bool) {
	m := periodInName.FindStringSubmatch(name)
	if m == nil {
		return ledger.Period{}, false
	}
	var q, y int
	if m[1] != "" {
		q, _ = strconv.Atoi(m[1])
		y, _ = strconv.Atoi(m[2])
	} else {
		y, _ = strconv.Atoi(m[3])
		q, _ = strconv.Atoi(m[4])
	}
	return ledger.Period{Year: y, Quarter: q}, true
}

func matchesKeywords(name string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func isZIP(name string) bool {
	return strings.EqualFold(path.Ext(name), ".zip")
}

// expandTemplate substitutes {year} and {quarter} in an index URL.
func expandTemplate(tmpl string, p ledger.Period) string {
	return strings.NewReplacer(
		"{year}", strconv.Itoa(p.Year),
		"{quarter}", strconv.Itoa(p.Quarter),
	).Replace(tmpl)
}

// linkName returns the file name of a listed URL, without query string.
func linkName(link string) string {
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(link)
}

// IndexSource lists a remote directory index and downloads the quarter's
// archives into DestDir.
type IndexSource struct {
	Fetcher fetcher.Fetcher
	// IndexURL may contain {year} and {quarter}. Without {quarter} the
	// listing is filtered by the quarter token in each file name.
	IndexURL string
	Keywords []string
	DestDir  string
}

// Fetch implements ArchiveSource.
func (s *IndexSource) Fetch(ctx context.Context, p ledger.Period) ([]string, error) {
	log := zap.L().With(zap.String("component", "pipeline.source"), zap.String("period", p.String()))

	dirURL := expandTemplate(s.IndexURL, p)
	links, err := s.Fetcher.List(ctx, dirURL)
	if err != nil {
		return nil, eris.Wrapf(err, "source: list %s", dirURL)
	}

	quarterScoped := strings.Contains(s.IndexURL, "{quarter}")
	var out []string
	for _, link := range links {
		name := linkName(link)
		if !isZIP(name) || !matchesKeywords(name, s.Keywords) {
			continue
		}
		if !quarterScoped {
			if lp, ok := periodFromName(name); !ok || lp != p {
				continue
			}
		}

		dest := filepath.Join(s.DestDir, p.String()+"_"+name)
		n, err := s.Fetcher.DownloadToFile(ctx, link, dest)
		if err != nil {
			// Files already downloaded for this quarter are not handed back.
			for _, f := range out {
				_ = os.Remove(f)
			}
			return nil, eris.Wrapf(err, "source: download %s", link)
		}
		log.Info("archive downloaded", zap.String("archive", name), zap.Int64("bytes", n))
		out = append(out, dest)
	}

	if len(out) == 0 {
		log.Warn("no archives found", zap.String("index", dirURL))
	}
	return out, nil
}

// Release removes a downloaded archive.
func (s *IndexSource) Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "source: remove %s", path)
	}
	return nil
}

// DirSource reads archives already on disk. An archive belongs to a quarter
// when its name carries the quarter token or it sits in a directory named
// after the quarter ("2024Q1/").
type DirSource struct {
	Dir      string
	Keywords []string
}

// Fetch implements ArchiveSource.
func (s *DirSource) Fetch(_ context.Context, p ledger.Period) ([]string, error) {
	var out []string

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", s.Dir)
	}
	for _, e := range entries {
		if e.IsDir() || !isZIP(e.Name()) || !matchesKeywords(e.Name(), s.Keywords) {
			continue
		}
		if lp, ok := periodFromName(e.Name()); ok && lp == p {
			out = append(out, filepath.Join(s.Dir, e.Name()))
		}
	}

	sub := filepath.Join(s.Dir, p.String())
	if entries, err := os.ReadDir(sub); err == nil {
		for _, e := range entries {
			if !e.IsDir() && isZIP(e.Name()) && matchesKeywords(e.Name(), s.Keywords) {
				out = append(out, filepath.Join(sub, e.Name()))
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// Release is a no-op; local archives are never removed.
func (s *DirSource) Release(string) error { return nil }

// FetchRegistry downloads the operator registry into destDir. rawURL may
// point at a .csv file or at a directory index, in which case the last .csv
// listed is taken.
func FetchRegistry(ctx context.Context, f fetcher.Fetcher, rawURL, destDir string) (string, error) {
	fileURL := rawURL
	if !strings.EqualFold(path.Ext(linkName(rawURL)), ".csv") {
		links, err := f.List(ctx, rawURL)
		if err != nil {
			return "", eris.Wrapf(err, "registry: list %s", rawURL)
		}
		fileURL = ""
		for _, link := range links {
			if strings.EqualFold(path.Ext(linkName(link)), ".csv") {
				fileURL = link
			}
		}
		if fileURL == "" {
			return "", eris.Errorf("registry: no .csv listed at %s", rawURL)
		}
	}

	dest := filepath.Join(destDir, "operators_registry.csv")
	n, err := f.DownloadToFile(ctx, fileURL, dest)
	if err != nil {
		return "", eris.Wrapf(err, "registry: download %s", fileURL)
	}
	zap.L().Info("registry downloaded",
		zap.String("component", "pipeline.source"),
		zap.String("url", fileURL),
		zap.Int64("bytes", n),
	)
	return dest, nil
}
