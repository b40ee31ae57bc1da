package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// skillFrontmatter is the optional YAML metadata block at the top of a
// SKILL.md file, delimited by "---" lines, mirroring the name/description
// convention used across the skills ecosystem.
type skillFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// parseSkillFrontmatter splits off a leading "---\n...\n---" YAML block, if
// present, and returns the parsed metadata plus the remaining body. Absent
// or malformed frontmatter is treated as "no metadata", not an error.
func parseSkillFrontmatter(content string) (skillFrontmatter, string) {
	const delim = "---"
	if !strings.HasPrefix(strings.TrimLeft(content, "\n"), delim) {
		return skillFrontmatter{}, content
	}
	trimmed := strings.TrimLeft(content, "\n")
	rest := trimmed[len(delim):]
	end := strings.Index(rest, "\n"+delim)
	if end == -1 {
		return skillFrontmatter{}, content
	}
	block := strings.TrimPrefix(rest[:end], "\n")
	body := strings.TrimPrefix(rest[end+len(delim)+1:], "\n")

	var fm skillFrontmatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return skillFrontmatter{}, content
	}
	return fm, body
}

// SkillsLoader discovers skills under a workspace's skills/ directory: each
// immediate subdirectory containing a SKILL.md becomes one Skill, named
// after the directory, with the file's content as Content and its first
// non-empty line (after stripping a leading heading marker) as Description.
type SkillsLoader struct {
	mu    sync.RWMutex
	roots []string
	cache map[string][]Skill
}

// NewSkillsLoader creates a loader that will look under each of roots for a
// skills/ subdirectory.
func NewSkillsLoader(roots ...string) *SkillsLoader {
	return &SkillsLoader{
		roots: roots,
		cache: make(map[string][]Skill),
	}
}

// Load returns the skills discovered under workspace's skills/ directory,
// consulting a per-workspace cache after the first successful scan.
func (l *SkillsLoader) Load(workspace string) ([]Skill, error) {
	l.mu.RLock()
	if cached, ok := l.cache[workspace]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	skills, err := l.scan(workspace)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[workspace] = skills
	l.mu.Unlock()
	return skills, nil
}

// Invalidate drops the cached skill list for workspace, forcing a rescan on
// the next Load (used after a skill is added/edited on disk).
func (l *SkillsLoader) Invalidate(workspace string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, workspace)
}

func (l *SkillsLoader) scan(workspace string) ([]Skill, error) {
	dir := filepath.Join(workspace, "skills")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(dir, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(skillPath)
		if err != nil {
			continue
		}
		content := string(data)
		fm, body := parseSkillFrontmatter(content)

		name := entry.Name()
		if strings.TrimSpace(fm.Name) != "" {
			name = strings.TrimSpace(fm.Name)
		}
		description := strings.TrimSpace(fm.Description)
		if description == "" {
			description = firstLineSummary(body)
		}

		skills = append(skills, Skill{
			Name:        name,
			Description: description,
			Content:     body,
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

func firstLineSummary(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "# ")
		if line != "" {
			return line
		}
	}
	return ""
}
