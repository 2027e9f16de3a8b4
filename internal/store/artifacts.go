package store

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rahul/esteira/internal/pipeline"
)

const frontMatterDelim = "---"

// Header is the front-matter block written at the top of every artifact.
type Header struct {
	Agent   string    `yaml:"agent"`
	Session string    `yaml:"session"`
	Created time.Time `yaml:"created"`
	Status  string    `yaml:"status,omitempty"`
}

// Artifact is a stored artifact with its header split off.
type Artifact struct {
	Name    string
	Path    string
	Header  Header
	Content string
}

// WriteArtifact stores content under name inside the session directory,
// prefixed with a front-matter header, and returns its path.
func (s *SessionStore) WriteArtifact(meta pipeline.ArtifactMeta, name, content string) (string, error) {
	dir, err := s.SessionDir(meta.SessionID)
	if err != nil {
		return "", err
	}
	path, err := s.contained(dir, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	header := Header{Agent: meta.Agent, Session: meta.SessionID, Created: meta.Created.UTC(), Status: meta.Status}
	data, err := encodeArtifact(header, content)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}

	if s.Index != nil {
		rel, _ := filepath.Rel(dir, path)
		if err := s.Index.RecordArtifact(header, filepath.ToSlash(rel), path); err != nil {
			log.Printf("[Store] Failed to index artifact %s: %v", path, err)
		}
	}
	return path, nil
}

// ReadArtifact returns the content of the artifact at path without its
// header.
func (s *SessionStore) ReadArtifact(path string) (string, error) {
	a, err := s.LoadArtifact(path)
	if err != nil {
		return "", err
	}
	return a.Content, nil
}

// LoadArtifact reads an artifact and its header. path must lie inside Root.
func (s *SessionStore) LoadArtifact(path string) (*Artifact, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Root, path)
	}
	if _, err := s.contained(s.Root, path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	header, content := decodeArtifact(data)
	return &Artifact{Name: filepath.Base(path), Path: path, Header: header, Content: content}, nil
}

// Artifacts lists the artifacts of a session in name order.
func (s *SessionStore) Artifacts(sessionID string) ([]*Artifact, error) {
	dir, err := s.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	var artifacts []*Artifact
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == StateFile || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		a, err := s.LoadArtifact(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		a.Name = filepath.ToSlash(rel)
		artifacts = append(artifacts, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts of %s: %w", sessionID, err)
	}
	return artifacts, nil
}

// contained joins name onto root and rejects results outside root.
func (s *SessionStore) contained(root, name string) (string, error) {
	target := name
	if !filepath.IsAbs(name) {
		target = filepath.Join(root, name)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path attempt: %s", name)
	}
	return target, nil
}

func encodeArtifact(h Header, content string) ([]byte, error) {
	meta, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact header: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(meta)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(content)
	return buf.Bytes(), nil
}

// decodeArtifact splits off a front-matter header. Files without one are
// returned whole.
func decodeArtifact(data []byte) (Header, string) {
	var h Header
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return h, text
	}
	rest := text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		return h, text
	}
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &h); err != nil {
		return Header{}, text
	}
	body := rest[end+len(frontMatterDelim)+2:]
	return h, strings.TrimPrefix(body, "\n")
}
