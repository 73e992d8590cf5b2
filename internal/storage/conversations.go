// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/logging"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// =============================================================================
// CONVERSATION META
// =============================================================================

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string      `json:"id" yaml:"id"`
	Title        string      `json:"title" yaml:"title"`
	Model        string      `json:"model" yaml:"model"`
	CreatedAt    time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" yaml:"updated_at"`
	MessageCount int         `json:"message_count" yaml:"message_count"`
	Preview      string      `json:"preview" yaml:"preview"` // First user message truncated
	Usage        model.Usage `json:"usage" yaml:"usage"`
}

// MetaOf summarizes conv for listings.
func MetaOf(conv *model.Conversation) ConversationMeta {
	return ConversationMeta{
		ID:           conv.ID,
		Title:        conv.Title,
		Model:        conv.Model,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: conv.Len(),
		Preview:      conv.Preview(),
		Usage:        conv.Usage(),
	}
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// DefaultMaxConversations bounds the store when no limit is configured.
const DefaultMaxConversations = 100

// ConversationStore persists conversations as one JSON file each.
type ConversationStore struct {
	// BaseDir is the directory for storing conversations
	// Default: ~/.rigrun-stream/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int

	log *logging.Logger
}

// NewConversationStore creates a store in baseDir, or in the default location
// when baseDir is empty.
func NewConversationStore(baseDir string, log *logging.Logger) (*ConversationStore, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(homeDir, ".rigrun-stream", "conversations")
	}

	if err := util.EnsurePrivateDir(baseDir); err != nil {
		return nil, err
	}

	return &ConversationStore{
		BaseDir:          baseDir,
		MaxConversations: DefaultMaxConversations,
		log:              logging.OrNop(log).Named("storage"),
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a conversation and returns its ID.
func (s *ConversationStore) Save(conv *model.Conversation) (string, error) {
	if conv.ID == "" {
		conv.ID = model.NewConversation().ID
	}
	if err := validateID(conv.ID); err != nil {
		return "", err
	}

	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.WritePrivateFile(s.filePath(conv.ID), data); err != nil {
		return "", err
	}

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return conv.ID, nil
}

// enforceLimit removes oldest conversations if over limit.
func (s *ConversationStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	// List is most recent first; everything past the limit goes.
	for _, meta := range metas[s.MaxConversations:] {
		if err := s.Delete(meta.ID); err != nil {
			s.log.Warn("failed to prune conversation", "id", meta.ID, "error", err)
		}
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID. Messages are normalized on the way
// in, so files written before versioning existed load with version lists.
func (s *ConversationStore) Load(id string) (*model.Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, &ConversationError{Message: "corrupt conversation file", ID: id, Cause: err}
	}
	if conv.ID == "" {
		conv.ID = id
	}
	conv.Messages = model.Normalize(conv.Messages)
	return &conv, nil
}

// LoadByIndex loads a conversation by its index in the list (0 = most recent).
func (s *ConversationStore) LoadByIndex(index int) (*model.Conversation, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(metas) {
		return nil, ErrConversationNotFound
	}
	return s.Load(metas[index].ID)
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved conversations (most recent first). Unreadable files
// are skipped.
func (s *ConversationStore) List() ([]ConversationMeta, error) {
	convs, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	metas := make([]ConversationMeta, 0, len(convs))
	for _, conv := range convs {
		metas = append(metas, MetaOf(conv))
	}
	return metas, nil
}

// Search finds conversations whose title, preview or message text contains
// query (case-insensitive). An empty query lists everything.
func (s *ConversationStore) Search(query string) ([]ConversationMeta, error) {
	convs, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	var results []ConversationMeta
	for _, conv := range convs {
		if query == "" || matches(conv, query) {
			results = append(results, MetaOf(conv))
		}
	}
	return results, nil
}

func matches(conv *model.Conversation, query string) bool {
	if strings.Contains(strings.ToLower(conv.Title), query) {
		return true
	}
	for _, msg := range conv.Messages {
		if strings.Contains(strings.ToLower(msg.Content.PlainText()), query) {
			return true
		}
	}
	return false
}

// loadAll reads every conversation file, most recently updated first.
func (s *ConversationStore) loadAll() ([]*model.Conversation, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var convs []*model.Conversation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		conv, err := s.Load(id)
		if err != nil {
			s.log.Debug("skipping unreadable conversation", "id", id, "error", err)
			continue
		}
		convs = append(convs, conv)
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID.
func (s *ConversationStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.filePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// Clear removes all saved conversations.
func (s *ConversationStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			if err := os.Remove(filepath.Join(s.BaseDir, entry.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// filePath returns the file path for a conversation ID.
func (s *ConversationStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

var validIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// validateID rejects IDs that could escape BaseDir.
// SECURITY: IDs come from the command line.
func validateID(id string) error {
	if !validIDPattern.MatchString(id) {
		return &ConversationError{Message: "invalid conversation id", ID: id}
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrInvalidID is matched by errors.Is for rejected conversation IDs.
var ErrInvalidID = &ConversationError{Message: "invalid conversation id"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
	ID      string
	Cause   error
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	msg := e.Message
	if e.ID != "" {
		msg += " (" + e.ID + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ConversationError) Unwrap() error {
	return e.Cause
}

// Is matches conversation errors by message, ignoring ID and cause.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
