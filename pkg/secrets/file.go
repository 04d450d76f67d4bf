package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// fileContents is the secrets file layout:
//
//	client_secrets:
//	  org-1: s3cr3t
type fileContents struct {
	ClientSecrets map[string]string `yaml:"client_secrets"`
}

// FileResolver serves client secrets from a YAML file and reloads it when
// the file changes. A reload that fails to parse keeps the previous secrets.
type FileResolver struct {
	path   string
	logger *observability.Logger

	mu      sync.RWMutex
	secrets map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileResolver loads path
func NewFileResolver(path string, logger *observability.Logger) (*FileResolver, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	r := &FileResolver{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file
func (r *FileResolver) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	var contents fileContents
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return fmt.Errorf("failed to parse secrets file: %w", err)
	}
	if contents.ClientSecrets == nil {
		contents.ClientSecrets = map[string]string{}
	}

	r.mu.Lock()
	r.secrets = contents.ClientSecrets
	r.mu.Unlock()
	return nil
}

func (r *FileResolver) ResolveClientSecret(ctx context.Context, orgID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if secret, ok := r.secrets[orgID]; ok && secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("no client secret for organization %s in %s: %w", orgID, r.path, auth.ErrNotFound)
}

// Watch reloads the file whenever it is written, created or renamed into
// place. The parent directory is watched so editors and config management
// tools that replace the file atomically are picked up.
func (r *FileResolver) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch secrets directory: %w", err)
	}

	r.watcher = watcher
	r.done = make(chan struct{})
	go r.loop()
	return nil
}

func (r *FileResolver) loop() {
	defer close(r.done)

	target := filepath.Clean(r.path)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.WithError(err).WithField("path", r.path).Warn("secrets reload failed, keeping previous secrets")
				continue
			}
			r.logger.WithField("path", r.path).Info("secrets reloaded")
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("secrets watcher error")
		}
	}
}

// Close stops watching
func (r *FileResolver) Close() error {
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	<-r.done
	r.watcher = nil
	return err
}
