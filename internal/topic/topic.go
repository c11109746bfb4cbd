// Package topic models the candidate subjects produced by the
// idea-generation stage. The generator's final output is a set of markdown
// files written into its working directory; Collect gathers them into the
// session directory and parses each into a Topic.
package topic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PreviewLimit bounds the length of a topic's preview excerpt, in bytes.
const PreviewLimit = 300

// Topic is one candidate subject, immutable once created. The ID is the
// topic's position in the collected sequence and is what selection commands
// reference.
type Topic struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	File      string `json:"file_path"`
	Preview   string `json:"preview"`
	WordCount int    `json:"word_count"`
}

// topicPatterns are the file patterns the idea generator is known to write,
// in preference order. Only the first pattern with matches is used.
var topicPatterns = []string{"topic_*.md", "analysis_*.md"}

// Collect gathers topic files from the generator's working directory, moves
// them into destDir, and parses them into an ordered Topic sequence. It
// returns an error when no topic files were produced, which callers treat
// as a malformed stage result.
func Collect(toolDir, destDir string) ([]Topic, error) {
	var files []string
	for _, pattern := range topicPatterns {
		matches, err := doublestar.FilepathGlob(filepath.Join(toolDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to scan for topic files: %w", err)
		}
		if len(matches) > 0 {
			files = matches
			break
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no topic files found in %s", toolDir)
	}
	sort.Strings(files)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create topics directory: %w", err)
	}

	topics := make([]Topic, 0, len(files))
	for i, src := range files {
		dest := filepath.Join(destDir, filepath.Base(src))
		if err := moveFile(src, dest); err != nil {
			return nil, fmt.Errorf("failed to move topic file %s: %w", src, err)
		}

		t, err := ParseFile(i, dest)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}

	return topics, nil
}

// ParseFile reads one topic file into a Topic. The title is the first
// markdown heading, falling back to a humanized form of the file name; the
// preview is the leading PreviewLimit bytes; the word count covers the full
// text.
func ParseFile(id int, path string) (Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topic{}, fmt.Errorf("failed to read topic file: %w", err)
	}
	content := string(data)

	title := humanize(path)
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") {
			title = strings.TrimSpace(strings.TrimLeft(line, "#"))
			break
		}
	}

	preview := content
	if len(preview) > PreviewLimit {
		preview = preview[:PreviewLimit]
	}

	return Topic{
		ID:        id,
		Title:     title,
		File:      path,
		Preview:   preview,
		WordCount: len(strings.Fields(content)),
	}, nil
}

// humanize turns a topic file name into a fallback title:
// "topic_ai_strategy.md" becomes "Topic Ai Strategy".
func humanize(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	words := strings.Split(strings.ReplaceAll(stem, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// moveFile renames src to dest, falling back to copy-and-remove when the
// two paths are on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
