package session

import "errors"

// Gate rejections. None of them issue a remote call or change state.
var (
	ErrUploadInFlight    = errors.New("an upload is already in progress")
	ErrNoDraft           = errors.New("no file selected")
	ErrQueryPending      = errors.New("a question is still being answered")
	ErrDeleteInFlight    = errors.New("a delete for this knowledge base is already in progress")
	ErrNoPendingDeletion = errors.New("no delete is awaiting confirmation")
	ErrStaleAnswer       = errors.New("answer discarded: the selection changed while it was pending")
)

const (
	msgUploadFailed = "upload failed, please retry"
	msgAnswerFailed = "answer failed, please retry"
	msgDeleteFailed = "delete failed, please try again later"
)
