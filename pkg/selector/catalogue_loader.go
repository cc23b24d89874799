package selector

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/guardloop/guardloop/internal/log"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// frontMatter is a policy file's optional "---"-delimited YAML preamble.
type frontMatter struct {
	Priority int      `yaml:"priority"`
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// LoadCatalogue builds a Catalogue from markdown policy files under
// basePath. Each file may start with a YAML front-matter preamble:
//
//	---
//	priority: 2
//	category: core
//	keywords: [auth, oauth, jwt]
//	---
//
// or the older single-line comment form:
//
//	<!-- priority: 2 category: core keywords: auth,oauth,jwt -->
//
// Missing preambles fall back to specialized/priority-3 with no keywords,
// matching the spec's "missing files warn, do not fail" posture for the
// cataloguing step itself (a file present but unannotated is still usable,
// just never scored highly).
func LoadCatalogue(basePath string) (*Catalogue, error) {
	entries, err := os.ReadDir(basePath)
	if os.IsNotExist(err) {
		return DefaultCatalogue(), nil
	}
	if err != nil {
		return nil, err
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		f, ferr := parsePolicyFile(filepath.Join(basePath, e.Name()))
		if ferr != nil {
			log.Warn("skipping unreadable guardrail file", zap.String("path", e.Name()), zap.Error(ferr))
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return DefaultCatalogue(), nil
	}
	return NewCatalogue(files, DefaultCatalogue().taskToFile), nil
}

func parsePolicyFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	content := string(raw)
	id := strings.TrimSuffix(filepath.Base(path), ".md")
	f := File{ID: id, Path: path, Content: content, Category: CategorySpecialized, Priority: 3,
		TokenEstimate: len(content) / 4, Keywords: map[string]bool{}}

	if fm, ok := parseYAMLFrontMatter(content); ok {
		applyFrontMatter(fm, &f)
	} else {
		scanner := bufio.NewScanner(strings.NewReader(content))
		if scanner.Scan() {
			line := scanner.Text()
			if strings.Contains(line, "priority:") {
				parsePreamble(line, &f)
			}
		}
	}

	if id == "always" {
		f.Category = CategoryCore
		f.Priority = 1
		f.ID = alwaysFileID
	}
	return f, nil
}

// parseYAMLFrontMatter extracts and decodes a leading "---" delimited block,
// returning ok=false when the file carries none.
func parseYAMLFrontMatter(content string) (frontMatter, bool) {
	if !strings.HasPrefix(content, "---\n") {
		return frontMatter{}, false
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return frontMatter{}, false
	}
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontMatter{}, false
	}
	return fm, true
}

func applyFrontMatter(fm frontMatter, f *File) {
	if fm.Priority != 0 {
		f.Priority = fm.Priority
	}
	if fm.Category != "" {
		f.Category = Category(fm.Category)
	}
	for _, k := range fm.Keywords {
		f.Keywords[k] = true
	}
}

func parsePreamble(line string, f *File) {
	fields := strings.Fields(line)
	for i, field := range fields {
		switch strings.TrimSuffix(field, ":") {
		case "priority":
			if i+1 < len(fields) {
				if p, err := strconv.Atoi(fields[i+1]); err == nil {
					f.Priority = p
				}
			}
		case "category":
			if i+1 < len(fields) {
				f.Category = Category(fields[i+1])
			}
		case "keywords":
			if i+1 < len(fields) {
				for _, k := range strings.Split(fields[i+1], ",") {
					f.Keywords[k] = true
				}
			}
		}
	}
}

// Watcher watches a guardrails base path for edits and invokes onChange
// (typically the Context Assembler's cache invalidation) instead of waiting
// out the TTL (spec §4.5 domain-stack enrichment).
type Watcher struct {
	fsw *fsnotify.Watcher
}

// WatchCatalogue starts watching basePath; onChange receives the changed
// file's base name (without extension) as its guardrail id.
func WatchCatalogue(basePath string, onChange func(fileID string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(basePath); err != nil {
		fsw.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					id := strings.TrimSuffix(filepath.Base(ev.Name), ".md")
					onChange(id)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn("guardrail watcher error", zap.Error(err))
			}
		}
	}()

	return &Watcher{fsw: fsw}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }
