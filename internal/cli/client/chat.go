package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/cloo-solutions/kbask/internal/session"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	answerColor = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed)
	noticeColor = color.New(color.FgYellow)
)

const chatHelp = `Commands:
  /list                   refresh and show knowledge bases ([x] = selected)
  /select <id> [id...]    toggle knowledge bases in the selection
  /clear                  clear the selection and the conversation
  /upload <file> [name]   upload a document
  /retry                  retry the last failed upload
  /delete <id>            ask to delete a knowledge base
  /confirm, /cancel       answer a pending delete
  /history                show the conversation
  /status                 show selection, upload and delete state
  /quit                   leave
Anything else is asked as a question over the selected knowledge bases.
Changing the selection starts a new conversation.`

// ChatCmd creates the interactive chat command.
func ChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive question and answer session",
		Long:  "Starts an interactive session to select knowledge bases, upload and delete documents, and ask questions.\n\n" + chatHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, api, err := newSession(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s. Type /help for commands.\n", api.BaseURL())
			return runChat(cmd.Context(), s, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

type repl struct {
	ctx context.Context
	s   *session.Session
	out io.Writer

	mu       sync.Mutex
	wg       sync.WaitGroup
	selected []int64
}

// runChat reads commands and questions from in until EOF or /quit. Questions run in
// the background so the selection can change while an answer is pending; at EOF
// outstanding answers are awaited, /quit abandons them.
func runChat(ctx context.Context, s *session.Session, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &repl{ctx: ctx, s: s, out: out}
	if err := s.Refresh(ctx); err != nil {
		r.errorf("failed to load knowledge bases: %s", domain.UserMessage(err, err.Error()))
	} else {
		r.printList()
	}
	r.selected = s.Selected()
	s.OnChange(r.selectionChanged)

	scanner := bufio.NewScanner(in)
	for {
		r.prompt()
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := r.handle(line); quit {
			cancel()
			break
		}
	}

	r.wg.Wait()
	return scanner.Err()
}

func (r *repl) handle(line string) bool {
	if !strings.HasPrefix(line, "/") {
		r.ask(line)
		return false
	}

	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		r.println(chatHelp)
	case "/list", "/ls":
		if err := r.s.Refresh(r.ctx); err != nil {
			r.errorf("failed to load knowledge bases: %s", domain.UserMessage(err, err.Error()))
			return false
		}
		r.printList()
	case "/select":
		r.toggle(args)
	case "/clear":
		r.s.ClearSelection()
		r.notice("Conversation cleared.")
	case "/upload":
		r.upload(args)
	case "/retry":
		r.retryUpload()
	case "/delete":
		r.requestDelete(args)
	case "/confirm":
		r.confirmDelete()
	case "/cancel":
		if err := r.s.CancelDelete(); err != nil {
			r.errorf("%v", err)
			return false
		}
		r.notice("Delete cancelled.")
	case "/history":
		r.printHistory()
	case "/status":
		r.printStatus()
	default:
		r.errorf("unknown command %s (try /help)", fields[0])
	}
	return false
}

func (r *repl) ask(question string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		turn, err := r.s.Ask(r.ctx, question)
		switch {
		case errors.Is(err, session.ErrStaleAnswer):
			r.notice("An answer arrived for an earlier selection and was discarded.")
		case err != nil:
			r.errorf("%s", domain.UserMessage(err, err.Error()))
		case turn.Status == session.TurnFailed:
			r.errorf("%s", turn.Content)
		default:
			r.mu.Lock()
			defer r.mu.Unlock()
			answerColor.Fprintln(r.out, turn.Content)
			if turn.KnowledgeBaseName != "" {
				fmt.Fprintf(r.out, "  (source: %s #%d)\n", turn.KnowledgeBaseName, turn.KnowledgeBaseID)
			}
		}
	}()
}

func (r *repl) toggle(args []string) {
	if len(args) == 0 {
		r.errorf("usage: /select <id> [id...]")
		return
	}
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			r.errorf("%v", err)
			continue
		}
		if !r.s.Toggle(id) {
			r.errorf("knowledge base %d is not in the list (try /list)", id)
		}
	}
}

func (r *repl) upload(args []string) {
	if len(args) == 0 {
		r.errorf("usage: /upload <file> [name]")
		return
	}
	file, err := session.OpenLocalFile(args[0])
	if err != nil {
		r.errorf("%v", err)
		return
	}

	r.notice("Uploading %s...", file.Name())
	result, err := uploadFile(r.ctx, r.s, file, strings.Join(args[1:], " "))
	if err != nil {
		r.errorf("%v", err)
		if r.s.UploadStatus().State == session.UploadError {
			r.notice("Use /retry to try again.")
		}
		return
	}
	r.withOut(func(out io.Writer) { printUploadResult(out, result) })
}

func (r *repl) retryUpload() {
	result, err := r.s.SubmitUpload(r.ctx)
	switch {
	case errors.Is(err, session.ErrNoDraft):
		r.errorf("nothing to retry")
	case err != nil:
		r.errorf("upload failed: %s", r.s.UploadStatus().Error)
	default:
		r.withOut(func(out io.Writer) { printUploadResult(out, result) })
	}
}

func (r *repl) requestDelete(args []string) {
	if len(args) != 1 {
		r.errorf("usage: /delete <id>")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		r.errorf("%v", err)
		return
	}
	kb, ok := r.s.Lookup(id)
	if !ok {
		r.errorf("knowledge base %d is not in the list (try /list)", id)
		return
	}
	if err := r.s.RequestDelete(kb.ID, kb.Name); err != nil {
		r.errorf("%v", err)
		return
	}
	r.notice("Delete knowledge base #%d %q? This cannot be undone. Type /confirm or /cancel.", kb.ID, kb.Name)
}

func (r *repl) confirmDelete() {
	pending, ok := r.s.PendingDeletion()
	if !ok {
		r.errorf("nothing to confirm")
		return
	}
	if err := r.s.ConfirmDelete(r.ctx); err != nil {
		r.errorf("%s", domain.UserMessage(err, err.Error()))
		r.notice("Type /confirm to retry or /cancel.")
		return
	}
	r.notice("Deleted knowledge base #%d %s.", pending.ID, pending.Name)
}

func (r *repl) printList() {
	snap := r.s.Snapshot()
	selected := make(map[int64]bool, len(snap.Selected))
	for _, id := range snap.Selected {
		selected[id] = true
	}
	r.withOut(func(out io.Writer) { printKnowledgeBases(out, snap.KnowledgeBases, selected) })
}

// selectionChanged announces every committed change to the selection, including ids
// dropped because their knowledge base was deleted or vanished on refresh.
func (r *repl) selectionChanged(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Equal(r.selected, snap.Selected) {
		return
	}
	r.selected = snap.Selected
	noticeColor.Fprintln(r.out, selectionLine(snap.Selected))
}

func selectionLine(selected []int64) string {
	if len(selected) == 0 {
		return "No knowledge bases selected."
	}
	ids := make([]string, len(selected))
	for i, id := range selected {
		ids[i] = fmt.Sprintf("#%d", id)
	}
	return "Selected: " + strings.Join(ids, ", ")
}

func (r *repl) printHistory() {
	turns := r.s.Transcript()
	r.withOut(func(out io.Writer) {
		if len(turns) == 0 {
			fmt.Fprintln(out, "No conversation yet.")
			return
		}
		for _, turn := range turns {
			stamp := turn.CreatedAt.Local().Format("15:04:05")
			switch {
			case turn.Role == session.RoleUser:
				fmt.Fprintf(out, "[%s] you: %s", stamp, turn.Content)
				if turn.Status == session.TurnPending {
					fmt.Fprint(out, " (waiting)")
				}
				fmt.Fprintln(out)
			case turn.Status == session.TurnFailed:
				errorColor.Fprintf(out, "[%s] error: %s\n", stamp, turn.Content)
			default:
				answerColor.Fprintf(out, "[%s] answer: %s\n", stamp, turn.Content)
			}
		}
	})
}

func (r *repl) printStatus() {
	snap := r.s.Snapshot()
	r.withOut(func(out io.Writer) {
		fmt.Fprintf(out, "Knowledge bases: %d, selected: %v\n", len(snap.KnowledgeBases), snap.Selected)
		fmt.Fprintf(out, "Conversation: %d turns", len(snap.Transcript))
		if snap.QueryPending {
			fmt.Fprint(out, ", waiting for an answer")
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Upload: %s", snap.Upload.State)
		if d := snap.Upload.Draft; d != nil {
			fmt.Fprintf(out, ", draft %s (%s)", d.Filename, domain.FormatFileSize(d.Size))
		}
		if snap.Upload.Error != "" {
			fmt.Fprintf(out, ", error: %s", snap.Upload.Error)
		}
		fmt.Fprintln(out)
		if p := snap.PendingDeletion; p != nil {
			fmt.Fprintf(out, "Pending delete: #%d %s", p.ID, p.Name)
			if p.Error != "" {
				fmt.Fprintf(out, " (last attempt failed: %s)", p.Error)
			}
			fmt.Fprintln(out)
		}
	})
}

func (r *repl) prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	promptColor.Fprint(r.out, "kbask> ")
}

func (r *repl) withOut(fn func(io.Writer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.out)
}

func (r *repl) println(msg string) {
	r.withOut(func(out io.Writer) { fmt.Fprintln(out, msg) })
}

func (r *repl) notice(format string, args ...interface{}) {
	r.withOut(func(out io.Writer) { noticeColor.Fprintf(out, format+"\n", args...) })
}

func (r *repl) errorf(format string, args ...interface{}) {
	r.withOut(func(out io.Writer) { errorColor.Fprintf(out, format+"\n", args...) })
}
