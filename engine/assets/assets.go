package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/core"
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	Path       string
	Type       AssetType
	Modified   time.Time
	LastLoaded time.Time
}

// AssetManager indexes an asset directory and loads files from it. With
// watching enabled the index follows files created, written and removed
// while the engine runs.
//
// Paths are relative to the asset directory and use forward slashes.
// Every method is safe for concurrent use, loads typically run on workers.
type AssetManager struct {
	baseDir string
	assets  map[string]AssetInfo
	loaders map[AssetType]loaders.Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewAssetManager() (*AssetManager, error) {
	am := &AssetManager{
		assets:  make(map[string]AssetInfo),
		loaders: make(map[AssetType]loaders.Loader),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	am.registerLoader(AssetTypeImage, &loaders.ImageLoader{})
	am.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(AssetTypeBinary, &loaders.BinaryLoader{})
	return am, nil
}

// Initialize indexes assetsDir. When watch is set the directory tree is
// watched for changes until Shutdown.
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	abs, err := filepath.Abs(assetsDir)
	if err != nil {
		return err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("asset directory %s: %w", assetsDir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("asset directory %s is not a directory", assetsDir)
	}
	am.baseDir = abs

	if watch {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		am.fsnotify = fsWatch
	}
	if err := am.watchRecursive(abs, false); err != nil {
		return err
	}
	if am.fsnotify != nil {
		go am.start()
	} else {
		close(am.stopped)
	}

	core.LogInfo("asset manager indexed %d assets in %s (watch=%t)", am.Count(), abs, watch)
	return nil
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	if am.fsnotify != nil {
		<-am.stopped
	}
	return nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType AssetType, loader loaders.Loader) {
	am.loaders[assetType] = loader
}

// Resolve returns the absolute path of an asset.
func (am *AssetManager) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(am.baseDir, filepath.FromSlash(path))
}

func (am *AssetManager) relative(path string) string {
	rel, err := filepath.Rel(am.baseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Info returns the index entry of an asset.
func (am *AssetManager) Info(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[filepath.ToSlash(path)]
	return info, ok
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// List returns the indexed paths of the given type.
func (am *AssetManager) List(assetType AssetType) []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []string
	for p, info := range am.assets {
		if info.Type == assetType {
			out = append(out, p)
		}
	}
	return out
}

// ReadAsset returns the raw bytes of an asset.
func (am *AssetManager) ReadAsset(path string) ([]byte, error) {
	data, err := os.ReadFile(am.Resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, path)
		}
		return nil, err
	}
	am.touch(path)
	return data, nil
}

// LoadAsset decodes an asset with the loader registered for its type.
func (am *AssetManager) LoadAsset(path string, params interface{}) (*loaders.Asset, error) {
	assetType := determineAssetType(path)
	loader, ok := am.loaders[assetType]
	if !ok {
		return nil, fmt.Errorf("no loader registered for asset %s of type %s", path, assetType)
	}
	asset, err := loader.Load(am.Resolve(path), params)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, path)
		}
		return nil, err
	}
	am.touch(path)
	return asset, nil
}

func (am *AssetManager) touch(path string) {
	key := am.relative(am.Resolve(path))
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if info, ok := am.assets[key]; ok {
		info.LastLoaded = time.Now()
		am.assets[key] = info
	}
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name, false); err != nil {
						core.LogWarn("asset manager cannot watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				am.handleFileEvent(e.Name)
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// watchRecursive indexes every file under path and, when watching, adds
// every directory to the watch list.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if am.fsnotify == nil {
				return nil
			}
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return
	}
	modified := time.Now()
	if st, err := os.Stat(path); err == nil {
		modified = st.ModTime()
	}
	key := am.relative(path)

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[key]
	info.Path = key
	info.Type = assetType
	info.Modified = modified
	am.assets[key] = info
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	delete(am.assets, am.relative(path))
}
