package domain

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultMaxUploadBytes is the client-side upload ceiling. The server enforces its own.
const DefaultMaxUploadBytes int64 = 50 * 1024 * 1024

// AcceptedExtensions lists the document formats a knowledge base can be built from.
var AcceptedExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".md"}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

// KnowledgeBase is one uploaded document and its usage counters, as listed by the service.
type KnowledgeBase struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	OriginalFilename string    `json:"originalFilename"`
	FileSize         int64     `json:"fileSize"`
	ContentType      string    `json:"contentType"`
	UploadedAt       time.Time `json:"uploadedAt"`
	LastAccessedAt   time.Time `json:"lastAccessedAt"`
	AccessCount      int64     `json:"accessCount"`
	QuestionCount    int64     `json:"questionCount"`
}

// KnowledgeBaseSummary is the knowledge base part of an upload result.
type KnowledgeBaseSummary struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FileSize      int64  `json:"fileSize"`
	ContentLength int64  `json:"contentLength"`
}

// StorageRef locates the stored original file.
type StorageRef struct {
	FileKey string `json:"fileKey"`
	FileURL string `json:"fileUrl"`
}

// UploadResult describes a finished upload. Duplicate reports that the stored bytes
// were reused; it says nothing about whether the knowledge base entry is new.
type UploadResult struct {
	KnowledgeBase KnowledgeBaseSummary `json:"knowledgeBase"`
	Storage       StorageRef           `json:"storage"`
	Duplicate     bool                 `json:"duplicate"`
}

// QueryRequest asks a question against one or more knowledge bases.
type QueryRequest struct {
	KnowledgeBaseIDs []int64 `json:"knowledgeBaseIds" validate:"required,min=1,dive,gt=0"`
	Question         string  `json:"question" validate:"required"`
}

// QueryResponse carries the answer and the knowledge base it is attributed to.
type QueryResponse struct {
	Answer            string `json:"answer"`
	KnowledgeBaseID   int64  `json:"knowledgeBaseId"`
	KnowledgeBaseName string `json:"knowledgeBaseName"`
}

// IsAcceptedFilename reports whether the file extension is one of AcceptedExtensions.
func IsAcceptedFilename(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, accepted := range AcceptedExtensions {
		if ext == accepted {
			return true
		}
	}
	return false
}

// ContentTypeFor returns the MIME type for an accepted filename, or application/octet-stream.
func ContentTypeFor(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ValidateUpload checks the client-side upload constraints.
func ValidateUpload(filename string, size, maxBytes int64) error {
	if strings.TrimSpace(filename) == "" {
		return NewValidationError("file", "a file must be selected")
	}
	if size <= 0 {
		return NewValidationError("file", "file is empty")
	}
	if !IsAcceptedFilename(filename) {
		return NewValidationError("file", fmt.Sprintf("unsupported file type %q (accepted: %s)",
			filepath.Ext(filename), strings.Join(AcceptedExtensions, ", ")))
	}
	if maxBytes > 0 && size > maxBytes {
		return NewValidationError("file", fmt.Sprintf("file is %s, the limit is %s",
			FormatFileSize(size), FormatFileSize(maxBytes)))
	}
	return nil
}

// DefaultName derives a knowledge base name from a filename by dropping the extension.
func DefaultName(filename string) string {
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		return base
	}
	return name
}

// FormatFileSize renders a byte count as B, KB or MB.
func FormatFileSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}

// SortedIDs returns a sorted copy of ids.
func SortedIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
