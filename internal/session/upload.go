package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/kbask/internal/domain"
	"go.uber.org/zap"
)

type UploadState string

const (
	UploadIdle      UploadState = "idle"
	UploadUploading UploadState = "uploading"
	UploadError     UploadState = "error"
)

// Draft is a file waiting to be uploaded with an optional display name.
type Draft struct {
	File File
	Name string
}

// DraftInfo describes the current draft without exposing its file handle.
type DraftInfo struct {
	Filename string
	Size     int64
	Name     string
}

// UploadStatus is the observable state of the upload cycle.
type UploadStatus struct {
	State      UploadState
	Draft      *DraftInfo
	Error      string
	LastResult *domain.UploadResult
}

type uploadState struct {
	state      UploadState
	draft      *Draft
	err        string
	lastResult *domain.UploadResult
}

func (u *uploadState) status() UploadStatus {
	st := UploadStatus{State: u.state, Error: u.err}
	if u.draft != nil {
		st.Draft = &DraftInfo{
			Filename: u.draft.File.Name(),
			Size:     u.draft.File.Size(),
			Name:     u.draft.Name,
		}
	}
	if u.lastResult != nil {
		r := *u.lastResult
		st.LastResult = &r
	}
	return st
}

// SelectFile replaces the draft with file, keeping a previously entered name, and
// clears the error left by a failed upload. A file that fails the type, emptiness or
// size checks is rejected with a *domain.ValidationError and the previous draft is
// kept.
func (s *Session) SelectFile(file File) error {
	if file == nil {
		return domain.NewValidationError("file", "no file selected")
	}
	if err := domain.ValidateUpload(file.Name(), file.Size(), s.maxUploadBytes); err != nil {
		return err
	}

	s.mu.Lock()
	if s.upload.state == UploadUploading {
		s.mu.Unlock()
		return ErrUploadInFlight
	}
	var name string
	if s.upload.draft != nil {
		name = s.upload.draft.Name
	}
	s.upload.draft = &Draft{File: file, Name: name}
	s.upload.err = ""
	if s.upload.state == UploadError {
		s.upload.state = UploadIdle
	}
	s.unlockAndNotify()
	return nil
}

// SetUploadName sets the optional display name of the draft. Surrounding whitespace
// is dropped; an empty name lets the service derive one from the filename.
func (s *Session) SetUploadName(name string) error {
	s.mu.Lock()
	if s.upload.state == UploadUploading {
		s.mu.Unlock()
		return ErrUploadInFlight
	}
	if s.upload.draft == nil {
		s.mu.Unlock()
		return ErrNoDraft
	}
	s.upload.draft.Name = strings.TrimSpace(name)
	s.unlockAndNotify()
	return nil
}

// ResetUpload drops the draft and any error, returning the cycle to idle.
func (s *Session) ResetUpload() error {
	s.mu.Lock()
	if s.upload.state == UploadUploading {
		s.mu.Unlock()
		return ErrUploadInFlight
	}
	s.upload = uploadState{state: UploadIdle, lastResult: s.upload.lastResult}
	s.unlockAndNotify()
	return nil
}

// SubmitUpload sends the draft to the service. It fails fast with ErrUploadInFlight
// while another upload is running and with ErrNoDraft when nothing is selected;
// neither touches the network.
//
// On success the draft is cleared and the registry refreshed. On failure the cycle
// moves to the error state with a displayable message and the draft is kept, so
// calling SubmitUpload again retries the same file.
func (s *Session) SubmitUpload(ctx context.Context) (*domain.UploadResult, error) {
	s.mu.Lock()
	if s.upload.state == UploadUploading {
		s.mu.Unlock()
		return nil, ErrUploadInFlight
	}
	if s.upload.draft == nil {
		s.mu.Unlock()
		return nil, ErrNoDraft
	}
	draft := *s.upload.draft
	if err := domain.ValidateUpload(draft.File.Name(), draft.File.Size(), s.maxUploadBytes); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.upload.state = UploadUploading
	s.upload.err = ""
	s.unlockAndNotify()

	result, err := s.send(ctx, draft)

	s.mu.Lock()
	if err != nil {
		s.upload.state = UploadError
		s.upload.err = domain.UserMessage(err, msgUploadFailed)
		s.unlockAndNotify()
		s.logger.Warn("upload failed", zap.String("filename", draft.File.Name()), zap.Error(err))
		return nil, err
	}
	s.upload.state = UploadIdle
	s.upload.draft = nil
	s.upload.lastResult = result
	s.unlockAndNotify()

	s.logger.Info("knowledge base uploaded",
		zap.Int64("id", result.KnowledgeBase.ID),
		zap.String("name", result.KnowledgeBase.Name),
		zap.Bool("duplicate", result.Duplicate),
	)

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after upload failed", zap.Error(err))
	}
	return result, nil
}

func (s *Session) send(ctx context.Context, draft Draft) (*domain.UploadResult, error) {
	rc, err := draft.File.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", draft.File.Name(), err)
	}
	defer rc.Close()

	return s.remote.UploadKnowledgeBase(ctx, draft.File.Name(), rc, draft.Name)
}

// UploadStatus returns the state of the upload cycle.
func (s *Session) UploadStatus() UploadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload.status()
}
