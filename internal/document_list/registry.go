package document_list

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DocumentInfo struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	CurrentFilename  string `json:"current_filename"`
	Pages            int    `json:"pages"`
	Bytes            int64  `json:"bytes"`
}

// PageCounter reports how many pages the document at path has.
type PageCounter func(path string) (int, error)

var extensions = map[string]bool{
	".pdf":  true,
	".tif":  true,
	".tiff": true,
}

// IsSupported reports whether filename has a document extension.
func IsSupported(filename string) bool {
	return extensions[strings.ToLower(filepath.Ext(filename))]
}

// Registry tracks the documents in the data directory. Every document is
// stored as {uuid}.{ext} with a {uuid}.json sidecar.
type Registry struct {
	dataDir   string
	countPage PageCounter
	logger    *zap.Logger

	mu        sync.RWMutex
	documents []DocumentInfo
}

func New(dataDir string, logger *zap.Logger) *Registry {
	return NewWithCounter(dataDir, VipsPageCount, logger)
}

func NewWithCounter(dataDir string, counter PageCounter, logger *zap.Logger) *Registry {
	return &Registry{
		dataDir:   dataDir,
		countPage: counter,
		logger:    logger,
		documents: []DocumentInfo{},
	}
}

func (r *Registry) Scan() error {
	if err := r.cleanupOrphanedJSON(); err != nil {
		return err
	}

	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	documents := []DocumentInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !IsSupported(entry.Name()) {
			continue
		}

		path := r.getFilePath(entry.Name())
		info, err := entry.Info()
		if err != nil {
			r.logger.Warn("Error getting file info", zap.String("path", path), zap.Error(err))
			continue
		}

		ext := strings.ToLower(filepath.Ext(path))
		basename := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		jsonPath := r.getFilePath(basename + ".json")

		var doc *DocumentInfo
		if _, err := os.Stat(jsonPath); err != nil {
			// No sidecar yet: move the file to a UUID name and describe it
			newUUID := uuid.New().String()
			finalPath := r.getFilePath(newUUID + ext)
			if err := os.Rename(path, finalPath); err != nil {
				r.logger.Warn("Failed to rename file", zap.String("old_path", path), zap.String("new_path", finalPath), zap.Error(err))
				continue
			}
			r.logger.Info("Migrated file to UUID", zap.String("old_path", path), zap.String("new_path", finalPath))

			doc, err = r.describe(newUUID, entry.Name(), finalPath, info.Size())
			if err != nil {
				r.logger.Warn("Failed to scan document", zap.String("path", finalPath), zap.Error(err))
				continue
			}
		} else {
			doc, err = r.loadMetadata(jsonPath)
			if err != nil {
				r.logger.Warn("Failed to load metadata, skipping", zap.String("json_path", jsonPath), zap.Error(err))
				continue
			}
		}
		documents = append(documents, *doc)
	}

	sort.Slice(documents, func(i, j int) bool {
		return documents[i].OriginalFilename < documents[j].OriginalFilename
	})

	r.mu.Lock()
	r.documents = documents
	r.mu.Unlock()

	r.logger.Info("Document scan completed", zap.Int("documents", len(documents)))
	return nil
}

// describe counts pages of the document at path and writes its sidecar.
func (r *Registry) describe(id, originalFilename, path string, size int64) (*DocumentInfo, error) {
	pages, err := r.countPage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}

	doc := &DocumentInfo{
		ID:               id,
		OriginalFilename: originalFilename,
		CurrentFilename:  filepath.Base(path),
		Pages:            pages,
		Bytes:            size,
	}

	jsonPath := r.getFilePath(id + ".json")
	if err := r.saveMetadata(jsonPath, doc); err != nil {
		return nil, err
	}
	r.logger.Info("Created metadata file", zap.String("json_path", jsonPath))
	return doc, nil
}

func (r *Registry) cleanupOrphanedJSON() error {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".json" {
			continue
		}

		path := r.getFilePath(entry.Name())
		basename := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		meta, err := r.loadMetadata(path)
		switch {
		case err != nil:
			r.removeSidecar(path, "invalid")
		case meta.ID != basename:
			r.logger.Warn("UUID mismatch in JSON",
				zap.String("json_path", path),
				zap.String("filename_uuid", basename),
				zap.String("json_uuid", meta.ID))
			r.removeSidecar(path, "mismatched")
		default:
			if _, err := os.Stat(r.getFilePath(meta.CurrentFilename)); err != nil {
				r.removeSidecar(path, "orphaned")
			}
		}
	}

	return nil
}

func (r *Registry) removeSidecar(path, reason string) {
	if err := os.Remove(path); err != nil {
		r.logger.Warn("Failed to delete JSON", zap.String("path", path), zap.String("reason", reason), zap.Error(err))
		return
	}
	r.logger.Info("Deleted JSON file", zap.String("path", path), zap.String("reason", reason))
}

func (r *Registry) GetDocuments() []DocumentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DocumentInfo, len(r.documents))
	copy(out, r.documents)
	return out
}

func (r *Registry) GetDocumentByID(id string) *DocumentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, doc := range r.documents {
		if doc.ID == id {
			return &doc
		}
	}
	return nil
}

func (r *Registry) GetDocumentPathByID(id string) string {
	doc := r.GetDocumentByID(id)
	if doc == nil {
		return ""
	}
	return r.getFilePath(doc.CurrentFilename)
}

func (r *Registry) getFilePath(filename string) string {
	return filepath.Join(r.dataDir, filename)
}

func (r *Registry) loadMetadata(path string) (*DocumentInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta DocumentInfo
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &meta, nil
}

func (r *Registry) saveMetadata(path string, meta *DocumentInfo) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

// ProcessUploadedFile moves an uploaded file into the data directory under a
// fresh UUID, writes its sidecar and registers it.
func (r *Registry) ProcessUploadedFile(tempPath string, originalFilename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if !extensions[ext] {
		return "", fmt.Errorf("unsupported document format: %s", ext)
	}

	newUUID := uuid.New().String()
	finalPath := r.getFilePath(newUUID + ext)

	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to move uploaded file: %w", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	doc, err := r.describe(newUUID, originalFilename, finalPath, info.Size())
	if err != nil {
		os.Remove(finalPath)
		return "", fmt.Errorf("failed to scan document: %w", err)
	}

	r.mu.Lock()
	r.documents = append(r.documents, *doc)
	r.mu.Unlock()

	r.logger.Info("Processed uploaded file",
		zap.String("uuid", newUUID),
		zap.String("original_filename", originalFilename),
		zap.String("final_path", finalPath))

	return newUUID, nil
}
