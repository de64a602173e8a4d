package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func kb(id int64, name string) domain.KnowledgeBase {
	return domain.KnowledgeBase{
		ID:               id,
		Name:             name,
		OriginalFilename: name + ".pdf",
		FileSize:         1024,
		ContentType:      "application/pdf",
		UploadedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newTestSession(t *testing.T, entries ...domain.KnowledgeBase) (*Session, *MockRemote) {
	t.Helper()
	m := new(MockRemote)
	s := New(m, Config{})
	m.On("ListKnowledgeBases", mock.Anything).Return(entries, nil).Once()
	require.NoError(t, s.Refresh(context.Background()))
	return s, m
}

func ids(entries []domain.KnowledgeBase) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

// askAnswered runs one successful question/answer cycle.
func askAnswered(t *testing.T, s *Session, m *MockRemote, question, answer string) {
	t.Helper()
	m.On("QueryKnowledgeBase", mock.Anything, mock.MatchedBy(func(req domain.QueryRequest) bool {
		return req.Question == question
	})).Return(&domain.QueryResponse{Answer: answer, KnowledgeBaseID: 5, KnowledgeBaseName: "Doc A"}, nil).Once()

	turn, err := s.Ask(context.Background(), question)
	require.NoError(t, err)
	require.Equal(t, answer, turn.Content)
}

func assertSelectionWithinRegistry(t *testing.T, snap Snapshot) {
	t.Helper()
	present := make(map[int64]bool)
	for _, e := range snap.KnowledgeBases {
		present[e.ID] = true
	}
	for _, id := range snap.Selected {
		assert.True(t, present[id], "selected id %d is not in the registry", id)
	}
}

func TestRefresh(t *testing.T) {
	t.Run("replaces entries and drops duplicate ids", func(t *testing.T) {
		s, m := newTestSession(t, kb(1, "A"))

		m.On("ListKnowledgeBases", mock.Anything).
			Return([]domain.KnowledgeBase{kb(3, "C"), kb(2, "B"), kb(3, "C again")}, nil).Once()
		require.NoError(t, s.Refresh(context.Background()))

		entries := s.KnowledgeBases()
		assert.Equal(t, []int64{3, 2}, ids(entries))
		assert.Equal(t, "C", entries[0].Name)
	})

	t.Run("failure keeps previous contents", func(t *testing.T) {
		s, m := newTestSession(t, kb(1, "A"))
		transportErr := &domain.TransportError{Op: "list", Err: errors.New("connection refused")}
		m.On("ListKnowledgeBases", mock.Anything).Return(nil, transportErr).Once()

		err := s.Refresh(context.Background())

		var te *domain.TransportError
		assert.ErrorAs(t, err, &te)
		assert.Equal(t, []int64{1}, ids(s.KnowledgeBases()))
	})

	t.Run("repeated refresh yields identical snapshot", func(t *testing.T) {
		list := []domain.KnowledgeBase{kb(2, "B"), kb(1, "A")}
		s, m := newTestSession(t, list...)
		first := s.Snapshot()

		m.On("ListKnowledgeBases", mock.Anything).Return(list, nil).Once()
		require.NoError(t, s.Refresh(context.Background()))

		assert.Equal(t, first, s.Snapshot())
	})

	t.Run("prunes selected ids that disappeared and clears transcript", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"), kb(7, "Doc B"))
		require.True(t, s.Toggle(5))
		require.True(t, s.Toggle(7))
		askAnswered(t, s, m, "q", "a")

		m.On("ListKnowledgeBases", mock.Anything).Return([]domain.KnowledgeBase{kb(7, "Doc B")}, nil).Once()
		require.NoError(t, s.Refresh(context.Background()))

		snap := s.Snapshot()
		assert.Equal(t, []int64{7}, snap.Selected)
		assert.Empty(t, snap.Transcript)
		assertSelectionWithinRegistry(t, snap)
	})

	t.Run("older refresh never overwrites a newer one", func(t *testing.T) {
		s, m := newTestSession(t)
		started := make(chan struct{})
		release := make(chan struct{})

		m.On("ListKnowledgeBases", mock.Anything).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return([]domain.KnowledgeBase{kb(1, "old")}, nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).
			Return([]domain.KnowledgeBase{kb(2, "new")}, nil).Once()

		done := make(chan error)
		go func() { done <- s.Refresh(context.Background()) }()
		<-started

		require.NoError(t, s.Refresh(context.Background()))
		close(release)
		require.NoError(t, <-done)

		assert.Equal(t, []int64{2}, ids(s.KnowledgeBases()))
	})
}

func TestToggle(t *testing.T) {
	t.Run("ignores ids outside the registry", func(t *testing.T) {
		s, _ := newTestSession(t, kb(5, "Doc A"))

		assert.False(t, s.Toggle(99))
		assert.Empty(t, s.Selected())
	})

	t.Run("flips membership", func(t *testing.T) {
		s, _ := newTestSession(t, kb(5, "Doc A"))

		require.True(t, s.Toggle(5))
		assert.True(t, s.IsSelected(5))
		require.True(t, s.Toggle(5))
		assert.False(t, s.IsSelected(5))
	})

	// selection {5} with a transcript, toggle 7
	t.Run("clears transcript when membership changes", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"), kb(7, "Doc B"))
		require.True(t, s.Toggle(5))
		askAnswered(t, s, m, "What is X?", "X is Y.")
		require.Len(t, s.Transcript(), 2)

		require.True(t, s.Toggle(7))

		assert.Equal(t, []int64{5, 7}, s.Selected())
		assert.Empty(t, s.Transcript())
		assert.Empty(t, s.Snapshot().TranscriptScope)
	})

	t.Run("clear selection always clears transcript", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.True(t, s.Toggle(5))
		askAnswered(t, s, m, "q", "a")

		s.ClearSelection()

		assert.Empty(t, s.Selected())
		assert.Empty(t, s.Transcript())
	})
}

func TestAsk(t *testing.T) {
	t.Run("rejects empty selection without a remote call", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))

		_, err := s.Ask(context.Background(), "What is X?")

		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "selection", ve.Field)
		assert.Empty(t, s.Transcript())
		m.AssertNotCalled(t, "QueryKnowledgeBase", mock.Anything, mock.Anything)
	})

	t.Run("rejects blank question", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.True(t, s.Toggle(5))

		_, err := s.Ask(context.Background(), "   \n")

		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "question", ve.Field)
		m.AssertNotCalled(t, "QueryKnowledgeBase", mock.Anything, mock.Anything)
	})

	t.Run("appends question and attributed answer", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"), kb(7, "Doc B"))
		require.True(t, s.Toggle(7))
		require.True(t, s.Toggle(5))

		m.On("QueryKnowledgeBase", mock.Anything, domain.QueryRequest{
			KnowledgeBaseIDs: []int64{5, 7},
			Question:         "What is X?",
		}).Return(&domain.QueryResponse{Answer: "X is Y.", KnowledgeBaseID: 7, KnowledgeBaseName: "Doc B"}, nil).Once()

		answer, err := s.Ask(context.Background(), "  What is X?  ")
		require.NoError(t, err)

		assert.Equal(t, RoleAssistant, answer.Role)
		assert.Equal(t, int64(7), answer.KnowledgeBaseID)
		assert.Equal(t, "Doc B", answer.KnowledgeBaseName)

		turns := s.Transcript()
		require.Len(t, turns, 2)
		assert.Equal(t, RoleUser, turns[0].Role)
		assert.Equal(t, "What is X?", turns[0].Content)
		assert.Equal(t, TurnAnswered, turns[0].Status)
		assert.Equal(t, answer, turns[1])
		assert.Equal(t, []int64{5, 7}, s.Snapshot().TranscriptScope)
		assert.False(t, s.QueryPending())
	})

	t.Run("remote failure becomes an assistant turn", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.True(t, s.Toggle(5))
		m.On("QueryKnowledgeBase", mock.Anything, mock.Anything).
			Return(nil, &domain.RemoteError{Code: 500, Message: "model unavailable"}).Once()

		answer, err := s.Ask(context.Background(), "What is X?")
		require.NoError(t, err)

		assert.Equal(t, TurnFailed, answer.Status)
		assert.Equal(t, "model unavailable", answer.Content)
		turns := s.Transcript()
		require.Len(t, turns, 2)
		assert.Equal(t, TurnFailed, turns[0].Status)
		assert.False(t, s.QueryPending())
	})

	t.Run("timeout uses the retry message", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.True(t, s.Toggle(5))
		m.On("QueryKnowledgeBase", mock.Anything, mock.Anything).
			Return(nil, &domain.TransportError{Op: "query", Err: context.DeadlineExceeded}).Once()

		answer, err := s.Ask(context.Background(), "What is X?")
		require.NoError(t, err)
		assert.Equal(t, "request timed out, please retry", answer.Content)
	})

	t.Run("unknown failure uses the fallback message", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.True(t, s.Toggle(5))
		m.On("QueryKnowledgeBase", mock.Anything, mock.Anything).
			Return(nil, &domain.TransportError{Op: "query", Err: errors.New("connection reset")}).Once()

		answer, err := s.Ask(context.Background(), "What is X?")
		require.NoError(t, err)
		assert.Equal(t, msgAnswerFailed, answer.Content)
	})

	t.Run("turns keep trigger order", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.True(t, s.Toggle(5))

		askAnswered(t, s, m, "Q1", "A1")
		askAnswered(t, s, m, "Q2", "A2")

		var contents []string
		for _, turn := range s.Transcript() {
			contents = append(contents, turn.Content)
		}
		assert.Equal(t, []string{"Q1", "A1", "Q2", "A2"}, contents)
	})

	t.Run("second question while pending is rejected", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.True(t, s.Toggle(5))
		started := make(chan struct{})
		release := make(chan struct{})
		m.On("QueryKnowledgeBase", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(&domain.QueryResponse{Answer: "A1"}, nil).Once()

		done := make(chan error)
		go func() {
			_, err := s.Ask(context.Background(), "Q1")
			done <- err
		}()
		<-started

		_, err := s.Ask(context.Background(), "Q2")
		assert.ErrorIs(t, err, ErrQueryPending)
		assert.True(t, s.QueryPending())

		close(release)
		require.NoError(t, <-done)
		m.AssertNumberOfCalls(t, "QueryKnowledgeBase", 1)
	})

	// selection {5}, ask, toggle 7 before the answer arrives
	t.Run("answer for a cleared transcript is discarded", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"), kb(7, "Doc B"))
		require.True(t, s.Toggle(5))
		started := make(chan struct{})
		release := make(chan struct{})
		m.On("QueryKnowledgeBase", mock.Anything, domain.QueryRequest{
			KnowledgeBaseIDs: []int64{5},
			Question:         "What is X?",
		}).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(&domain.QueryResponse{Answer: "X is Y.", KnowledgeBaseID: 5, KnowledgeBaseName: "Doc A"}, nil).Once()

		type result struct {
			turn Turn
			err  error
		}
		done := make(chan result)
		go func() {
			turn, err := s.Ask(context.Background(), "What is X?")
			done <- result{turn, err}
		}()
		<-started

		pending := s.Transcript()
		require.Len(t, pending, 1)
		assert.Equal(t, TurnPending, pending[0].Status)

		require.True(t, s.Toggle(7))
		assert.Empty(t, s.Transcript())

		close(release)
		res := <-done

		assert.ErrorIs(t, res.err, ErrStaleAnswer)
		snap := s.Snapshot()
		assert.Empty(t, snap.Transcript)
		assert.Equal(t, []int64{5, 7}, snap.Selected)
		assert.False(t, snap.QueryPending)
	})
}

func TestUpload(t *testing.T) {
	t.Run("select rejects invalid files and keeps the draft", func(t *testing.T) {
		s, m := newTestSession(t)
		require.NoError(t, s.SelectFile(NewMemoryFile("notes.txt", []byte("hello"))))

		tests := []File{
			NewMemoryFile("empty.txt", nil),
			NewMemoryFile("setup.exe", []byte("MZ")),
		}
		for _, f := range tests {
			var ve *domain.ValidationError
			assert.ErrorAs(t, s.SelectFile(f), &ve, f.Name())
		}

		st := s.UploadStatus()
		require.NotNil(t, st.Draft)
		assert.Equal(t, "notes.txt", st.Draft.Filename)
		m.AssertNotCalled(t, "UploadKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("select enforces the size ceiling", func(t *testing.T) {
		m := new(MockRemote)
		s := New(m, Config{MaxUploadBytes: 4})

		var ve *domain.ValidationError
		assert.ErrorAs(t, s.SelectFile(NewMemoryFile("big.md", []byte("12345"))), &ve)
	})

	t.Run("submit without draft", func(t *testing.T) {
		s, _ := newTestSession(t)
		_, err := s.SubmitUpload(context.Background())
		assert.ErrorIs(t, err, ErrNoDraft)
	})

	// empty registry, select doc.pdf, submit
	t.Run("success clears draft and refreshes registry", func(t *testing.T) {
		s, m := newTestSession(t)
		require.NoError(t, s.SelectFile(NewMemoryFile("doc.pdf", []byte("%PDF-1.4"))))

		result := &domain.UploadResult{
			KnowledgeBase: domain.KnowledgeBaseSummary{ID: 1, Name: "doc", FileSize: 8, ContentLength: 3},
			Storage:       domain.StorageRef{FileKey: "knowledgebases/abc/doc.pdf", FileURL: "http://s3/doc.pdf"},
		}
		var sent string
		m.On("UploadKnowledgeBase", mock.Anything, "doc.pdf", mock.Anything, "").
			Run(func(args mock.Arguments) {
				data, _ := io.ReadAll(args.Get(2).(io.Reader))
				sent = string(data)
			}).
			Return(result, nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).Return([]domain.KnowledgeBase{kb(1, "doc")}, nil).Once()

		got, err := s.SubmitUpload(context.Background())
		require.NoError(t, err)

		assert.Equal(t, result, got)
		assert.Equal(t, "%PDF-1.4", sent)
		entries := s.KnowledgeBases()
		require.Len(t, entries, 1)
		assert.Equal(t, "doc", entries[0].Name)

		st := s.UploadStatus()
		assert.Equal(t, UploadIdle, st.State)
		assert.Nil(t, st.Draft)
		assert.Equal(t, result, st.LastResult)
	})

	t.Run("duplicate result still refreshes", func(t *testing.T) {
		s, m := newTestSession(t, kb(1, "doc"))
		require.NoError(t, s.SelectFile(NewMemoryFile("copy.pdf", []byte("%PDF-1.4"))))
		require.NoError(t, s.SetUploadName("  Copy  "))

		m.On("UploadKnowledgeBase", mock.Anything, "copy.pdf", mock.Anything, "Copy").
			Return(&domain.UploadResult{KnowledgeBase: domain.KnowledgeBaseSummary{ID: 2, Name: "Copy"}, Duplicate: true}, nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).
			Return([]domain.KnowledgeBase{kb(2, "Copy"), kb(1, "doc")}, nil).Once()

		got, err := s.SubmitUpload(context.Background())
		require.NoError(t, err)
		assert.True(t, got.Duplicate)
		assert.Equal(t, []int64{2, 1}, ids(s.KnowledgeBases()))
	})

	t.Run("failure keeps draft for retry", func(t *testing.T) {
		s, m := newTestSession(t)
		require.NoError(t, s.SelectFile(NewMemoryFile("doc.pdf", []byte("%PDF-1.4"))))

		m.On("UploadKnowledgeBase", mock.Anything, "doc.pdf", mock.Anything, "").
			Return(nil, &domain.RemoteError{Code: 400, Message: "document parsing failed"}).Once()

		_, err := s.SubmitUpload(context.Background())
		var re *domain.RemoteError
		require.ErrorAs(t, err, &re)

		st := s.UploadStatus()
		assert.Equal(t, UploadError, st.State)
		assert.Equal(t, "document parsing failed", st.Error)
		require.NotNil(t, st.Draft)

		m.On("UploadKnowledgeBase", mock.Anything, "doc.pdf", mock.Anything, "").
			Return(&domain.UploadResult{KnowledgeBase: domain.KnowledgeBaseSummary{ID: 1, Name: "doc"}}, nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).Return([]domain.KnowledgeBase{kb(1, "doc")}, nil).Once()

		_, err = s.SubmitUpload(context.Background())
		require.NoError(t, err)
		st = s.UploadStatus()
		assert.Equal(t, UploadIdle, st.State)
		assert.Empty(t, st.Error)
		assert.Nil(t, st.Draft)
	})

	t.Run("select after failure clears the error", func(t *testing.T) {
		s, m := newTestSession(t)
		require.NoError(t, s.SelectFile(NewMemoryFile("a.pdf", []byte("%PDF-1.4"))))
		m.On("UploadKnowledgeBase", mock.Anything, "a.pdf", mock.Anything, "").
			Return(nil, &domain.TransportError{Op: "upload", Err: errors.New("connection reset")}).Once()

		_, err := s.SubmitUpload(context.Background())
		require.Error(t, err)
		require.Equal(t, UploadError, s.UploadStatus().State)

		require.NoError(t, s.SelectFile(NewMemoryFile("b.pdf", []byte("%PDF-1.5"))))
		st := s.UploadStatus()
		assert.Equal(t, UploadIdle, st.State)
		assert.Empty(t, st.Error)
		require.NotNil(t, st.Draft)
		assert.Equal(t, "b.pdf", st.Draft.Filename)
	})

	t.Run("generic failure message", func(t *testing.T) {
		s, m := newTestSession(t)
		require.NoError(t, s.SelectFile(NewMemoryFile("doc.md", []byte("# hi"))))
		m.On("UploadKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &domain.TransportError{Op: "upload", Err: errors.New("connection refused")}).Once()

		_, err := s.SubmitUpload(context.Background())
		require.Error(t, err)
		assert.Equal(t, msgUploadFailed, s.UploadStatus().Error)
	})

	t.Run("submit while uploading is rejected without a second call", func(t *testing.T) {
		s, m := newTestSession(t)
		require.NoError(t, s.SelectFile(NewMemoryFile("doc.pdf", []byte("%PDF-1.4"))))
		started := make(chan struct{})
		release := make(chan struct{})
		m.On("UploadKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(&domain.UploadResult{KnowledgeBase: domain.KnowledgeBaseSummary{ID: 1, Name: "doc"}}, nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).Return([]domain.KnowledgeBase{kb(1, "doc")}, nil).Once()

		done := make(chan error)
		go func() {
			_, err := s.SubmitUpload(context.Background())
			done <- err
		}()
		<-started

		assert.Equal(t, UploadUploading, s.UploadStatus().State)
		_, err := s.SubmitUpload(context.Background())
		assert.ErrorIs(t, err, ErrUploadInFlight)
		assert.ErrorIs(t, s.SelectFile(NewMemoryFile("other.txt", []byte("x"))), ErrUploadInFlight)
		assert.ErrorIs(t, s.ResetUpload(), ErrUploadInFlight)

		close(release)
		require.NoError(t, <-done)
		m.AssertNumberOfCalls(t, "UploadKnowledgeBase", 1)
	})

	t.Run("reset drops draft and error", func(t *testing.T) {
		s, m := newTestSession(t)
		require.NoError(t, s.SelectFile(NewMemoryFile("doc.pdf", []byte("%PDF-1.4"))))
		m.On("UploadKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &domain.RemoteError{Code: 500, Message: "boom"}).Once()
		_, _ = s.SubmitUpload(context.Background())

		require.NoError(t, s.ResetUpload())

		st := s.UploadStatus()
		assert.Equal(t, UploadIdle, st.State)
		assert.Nil(t, st.Draft)
		assert.Empty(t, st.Error)
	})
}

func TestDeletion(t *testing.T) {
	t.Run("confirm without request", func(t *testing.T) {
		s, _ := newTestSession(t)
		assert.ErrorIs(t, s.ConfirmDelete(context.Background()), ErrNoPendingDeletion)
	})

	t.Run("cancel discards confirmation", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.NoError(t, s.RequestDelete(5, "Doc A"))

		require.NoError(t, s.CancelDelete())

		_, open := s.PendingDeletion()
		assert.False(t, open)
		assert.Equal(t, []int64{5}, ids(s.KnowledgeBases()))
		m.AssertNotCalled(t, "DeleteKnowledgeBase", mock.Anything, mock.Anything)
	})

	// confirm fails with a remote error
	t.Run("failure keeps confirmation open", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.True(t, s.Toggle(5))
		askAnswered(t, s, m, "q", "a")
		require.NoError(t, s.RequestDelete(5, "Doc A"))
		m.On("DeleteKnowledgeBase", mock.Anything, int64(5)).
			Return(&domain.RemoteError{Code: 500, Message: "storage unavailable"}).Once()

		err := s.ConfirmDelete(context.Background())

		var de *domain.DeletionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, int64(5), de.ID)
		assert.Equal(t, "storage unavailable", de.Message)

		snap := s.Snapshot()
		assert.Equal(t, []int64{5}, ids(snap.KnowledgeBases))
		assert.Equal(t, []int64{5}, snap.Selected)
		assert.Len(t, snap.Transcript, 2)
		require.NotNil(t, snap.PendingDeletion)
		assert.Equal(t, int64(5), snap.PendingDeletion.ID)
		assert.False(t, snap.PendingDeletion.InFlight)
		assert.Equal(t, "storage unavailable", snap.PendingDeletion.Error)
		assert.Empty(t, snap.Deleting)
	})

	// selection {5}, confirm succeeds
	t.Run("success cascades into selection and transcript", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"), kb(7, "Doc B"))
		require.True(t, s.Toggle(5))
		askAnswered(t, s, m, "q", "a")
		require.NoError(t, s.RequestDelete(5, "Doc A"))
		m.On("DeleteKnowledgeBase", mock.Anything, int64(5)).Return(nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).Return([]domain.KnowledgeBase{kb(7, "Doc B")}, nil).Once()

		require.NoError(t, s.ConfirmDelete(context.Background()))

		snap := s.Snapshot()
		assert.Equal(t, []int64{7}, ids(snap.KnowledgeBases))
		assert.Empty(t, snap.Selected)
		assert.Empty(t, snap.Transcript)
		assert.Nil(t, snap.PendingDeletion)
	})

	t.Run("deleting an unselected entry keeps the transcript", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"), kb(7, "Doc B"))
		require.True(t, s.Toggle(5))
		askAnswered(t, s, m, "q", "a")
		m.On("DeleteKnowledgeBase", mock.Anything, int64(7)).Return(nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).Return([]domain.KnowledgeBase{kb(5, "Doc A")}, nil).Once()

		require.NoError(t, s.Remove(context.Background(), 7))

		assert.Equal(t, []int64{5}, s.Selected())
		assert.Len(t, s.Transcript(), 2)
	})

	t.Run("refresh failure after delete still removes the entry", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		m.On("DeleteKnowledgeBase", mock.Anything, int64(5)).Return(nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).
			Return(nil, &domain.TransportError{Op: "list", Err: errors.New("down")}).Once()

		require.NoError(t, s.Remove(context.Background(), 5))
		assert.Empty(t, s.KnowledgeBases())
	})

	t.Run("duplicate delete for the same id is suppressed", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"))
		require.NoError(t, s.RequestDelete(5, "Doc A"))
		started := make(chan struct{})
		release := make(chan struct{})
		m.On("DeleteKnowledgeBase", mock.Anything, int64(5)).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).Return([]domain.KnowledgeBase{}, nil).Once()

		done := make(chan error)
		go func() { done <- s.ConfirmDelete(context.Background()) }()
		<-started

		assert.ErrorIs(t, s.Remove(context.Background(), 5), ErrDeleteInFlight)
		assert.ErrorIs(t, s.CancelDelete(), ErrDeleteInFlight)
		assert.ErrorIs(t, s.RequestDelete(5, "Doc A"), ErrDeleteInFlight)
		assert.Equal(t, []int64{5}, s.Snapshot().Deleting)

		close(release)
		require.NoError(t, <-done)
		m.AssertNumberOfCalls(t, "DeleteKnowledgeBase", 1)
	})

	t.Run("refresh issued before a delete cannot resurrect the entry", func(t *testing.T) {
		s, m := newTestSession(t, kb(5, "Doc A"), kb(7, "Doc B"))
		started := make(chan struct{})
		release := make(chan struct{})
		m.On("ListKnowledgeBases", mock.Anything).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return([]domain.KnowledgeBase{kb(5, "Doc A"), kb(7, "Doc B")}, nil).Once()

		done := make(chan error)
		go func() { done <- s.Refresh(context.Background()) }()
		<-started

		m.On("DeleteKnowledgeBase", mock.Anything, int64(5)).Return(nil).Once()
		m.On("ListKnowledgeBases", mock.Anything).
			Return(nil, &domain.TransportError{Op: "list", Err: errors.New("down")}).Once()
		require.NoError(t, s.Remove(context.Background(), 5))

		close(release)
		require.NoError(t, <-done)

		assert.Equal(t, []int64{7}, ids(s.KnowledgeBases()))
		assert.False(t, s.Toggle(5))
	})
}

func TestOnChange(t *testing.T) {
	s, m := newTestSession(t, kb(5, "Doc A"))

	var mu sync.Mutex
	var snaps []Snapshot
	s.OnChange(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, snap)
	})

	require.True(t, s.Toggle(5))
	askAnswered(t, s, m, "q", "a")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 3)
	assert.Equal(t, []int64{5}, snaps[0].Selected)
	assert.True(t, snaps[1].QueryPending)
	assert.Len(t, snaps[1].Transcript, 1)
	assert.False(t, snaps[2].QueryPending)
	assert.Len(t, snaps[2].Transcript, 2)
	for _, snap := range snaps {
		assertSelectionWithinRegistry(t, snap)
	}
}

func TestOnChange_LatestStateDeliveredLast(t *testing.T) {
	s, _ := newTestSession(t, kb(5, "Doc A"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var last Snapshot
	s.OnChange(func(snap Snapshot) {
		once.Do(func() {
			close(entered)
			<-release
		})
		mu.Lock()
		defer mu.Unlock()
		last = snap
	})

	first := make(chan bool)
	go func() { first <- s.Toggle(5) }()
	<-entered

	second := make(chan bool)
	go func() { second <- s.Toggle(5) }()
	require.Eventually(t, func() bool { return len(s.Selected()) == 0 }, time.Second, time.Millisecond)

	close(release)
	require.True(t, <-first)
	require.True(t, <-second)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, last.Selected)
	assert.Equal(t, s.Snapshot().Seq, last.Seq)
}

func TestOnChange_DropsSupersededSnapshot(t *testing.T) {
	s, _ := newTestSession(t, kb(5, "Doc A"))

	var seen []uint64
	s.OnChange(func(snap Snapshot) { seen = append(seen, snap.Seq) })

	require.True(t, s.Toggle(5))
	stale := s.Snapshot().Seq
	s.ClearSelection()

	// A delivery racing behind a newer one is discarded.
	s.mu.Lock()
	s.seq = stale - 1
	s.unlockAndNotify()

	assert.Equal(t, []uint64{stale, stale + 1}, seen)
}
