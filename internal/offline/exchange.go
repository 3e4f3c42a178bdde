package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/vaultmesh/frost-wallet/pkg/party"
)

const (
	// ExportDir is where this device writes outgoing envelopes.
	ExportDir = "mpc_wallet_export"
	// ImportDir is where this device looks for incoming envelopes.
	ImportDir = "mpc_wallet_import"
)

// Exchange reads and writes envelopes under a removable-media root.
//
// Processed import files are remembered by name rather than deleted: the
// media may be mounted read-only.
type Exchange struct {
	fs     afero.Fs
	root   string
	device party.ID
	clock  clock.Clock
	log    zerolog.Logger

	mtx  sync.Mutex
	seq  uint64
	seen map[string]struct{}
}

// NewExchange prepares the export and import directories under root.
func NewExchange(fs afero.Fs, root string, device party.ID, clk clock.Clock, log zerolog.Logger) (*Exchange, error) {
	if clk == nil {
		clk = clock.New()
	}
	for _, dir := range []string{ExportDir, ImportDir} {
		if err := fs.MkdirAll(filepath.Join(root, dir), 0o700); err != nil {
			return nil, fmt.Errorf("offline: create %s: %w", dir, err)
		}
	}
	return &Exchange{
		fs:     fs,
		root:   root,
		device: device,
		clock:  clk,
		log:    log.With().Str("component", "offline").Str("device", string(device)).Logger(),
		seen:   make(map[string]struct{}),
	}, nil
}

// Export writes a sealed envelope into the export directory and returns the
// file path. The name encodes session, kind, sender and a sequence number so
// concurrent exports never collide.
func (e *Exchange) Export(sessionID string, kind Kind, to party.ID, payload []byte, ttl time.Duration) (string, error) {
	env := NewEnvelope(sessionID, kind, e.device, to, payload, e.clock.Now().UTC().Add(ttl))
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("offline: marshal envelope: %w", err)
	}
	data = append(data, '\n')

	e.mtx.Lock()
	e.seq++
	seq := e.seq
	e.mtx.Unlock()

	name := fmt.Sprintf("%s_%s_%s_%04d.json", sessionID, kind, e.device, seq)
	path := filepath.Join(e.root, ExportDir, name)
	if err := afero.WriteFile(e.fs, path, data, 0o600); err != nil {
		return "", fmt.Errorf("offline: write envelope: %w", err)
	}
	e.log.Info().Str("file", name).Str("kind", string(kind)).Msg("envelope exported")
	return path, nil
}

// Scan reads every unseen envelope addressed to this device from the import
// directory. Malformed, tampered or expired envelopes are dropped with a log
// entry; they still count as seen.
func (e *Exchange) Scan() ([]*Envelope, error) {
	dir := filepath.Join(e.root, ImportDir)
	files, err := afero.ReadDir(e.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("offline: scan: %w", err)
	}

	var out []*Envelope
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		e.mtx.Lock()
		_, dup := e.seen[f.Name()]
		if !dup {
			e.seen[f.Name()] = struct{}{}
		}
		e.mtx.Unlock()
		if dup {
			continue
		}
		env := e.readEnvelope(filepath.Join(dir, f.Name()))
		if env != nil {
			out = append(out, env)
		}
	}
	return out, nil
}

func (e *Exchange) readEnvelope(path string) *Envelope {
	name := filepath.Base(path)
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		e.log.Warn().Err(err).Str("file", name).Msg("dropping unreadable envelope")
		return nil
	}
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		e.log.Warn().Err(err).Str("file", name).Msg("dropping malformed envelope")
		return nil
	}
	if err := env.Validate(); err != nil {
		e.log.Warn().Err(err).Str("file", name).Msg("dropping invalid envelope")
		return nil
	}
	if e.clock.Now().After(env.ExpiresAt) {
		e.log.Warn().Str("file", name).Time("expires_at", env.ExpiresAt).Msg("dropping expired envelope")
		return nil
	}
	if !env.IsFor(e.device) {
		return nil
	}
	return env
}

// Watch delivers envelopes as they appear in the import directory, without
// polling. It runs until ctx is cancelled. The initial directory content is
// delivered first.
//
// fsnotify watches the real filesystem, so Watch only works when the exchange
// is backed by the OS filesystem.
func (e *Exchange) Watch(ctx context.Context) (<-chan *Envelope, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("offline: watcher: %w", err)
	}
	dir := filepath.Join(e.root, ImportDir)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("offline: watch %s: %w", dir, err)
	}

	out := make(chan *Envelope, 64)
	go func() {
		defer watcher.Close()
		defer close(out)

		emit := func(envs []*Envelope) bool {
			for _, env := range envs {
				select {
				case out <- env:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		if envs, err := e.Scan(); err == nil {
			if !emit(envs) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				// rescan rather than read the single file: writers may still
				// be flushing when the first event fires
				envs, err := e.Scan()
				if err != nil {
					e.log.Warn().Err(err).Msg("rescan after fs event failed")
					continue
				}
				if !emit(envs) {
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.log.Warn().Err(err).Msg("watcher error")
			}
		}
	}()
	return out, nil
}
