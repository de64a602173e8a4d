package domain

import (
	"time"
	"unicode/utf8"
)

// StoredKnowledgeBase is the service-side record behind a KnowledgeBase listing.
type StoredKnowledgeBase struct {
	ID               int64
	Name             string
	OriginalFilename string
	FileSize         int64
	ContentType      string
	ContentHash      string
	StorageKey       string
	Content          string
	// ContentChars is the stored rune count of Content; repositories fill it when
	// Content itself is not loaded.
	ContentChars     int64
	UploadedAt       time.Time
	LastAccessedAt   time.Time
	AccessCount      int64
	QuestionCount    int64
}

// Listing converts the record to its wire form.
func (k *StoredKnowledgeBase) Listing() KnowledgeBase {
	return KnowledgeBase{
		ID:               k.ID,
		Name:             k.Name,
		OriginalFilename: k.OriginalFilename,
		FileSize:         k.FileSize,
		ContentType:      k.ContentType,
		UploadedAt:       k.UploadedAt,
		LastAccessedAt:   k.LastAccessedAt,
		AccessCount:      k.AccessCount,
		QuestionCount:    k.QuestionCount,
	}
}

// ContentLength is the extracted text length in runes.
func (k *StoredKnowledgeBase) ContentLength() int64 {
	if k.Content == "" {
		return k.ContentChars
	}
	return int64(utf8.RuneCountInString(k.Content))
}
