package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/viper"

	"clawlegion/internal/app"
	"clawlegion/internal/domain"
	"clawlegion/internal/wizard"
)

func testEnv(t *testing.T, backend http.HandlerFunc) *app.Env {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	env, err := app.Resolve(context.Background(), t.TempDir(), app.Overrides{BackendURL: srv.URL, ActorID: "alice"}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestAttachmentKind(t *testing.T) {
	cases := []struct {
		mime string
		want domain.AttachmentType
	}{
		{"image/png", domain.AttachmentImage},
		{"audio/webm", domain.AttachmentAudio},
		{"video/mp4", domain.AttachmentVideo},
	}
	for _, c := range cases {
		got, err := attachmentKind(c.mime)
		if err != nil || got != c.want {
			t.Fatalf("%s: got %q, %v", c.mime, got, err)
		}
	}
	if _, err := attachmentKind("application/pdf"); err == nil {
		t.Fatalf("expected pdf to be rejected")
	}
}

func TestFillDraftDefaultsSingleRepository(t *testing.T) {
	env := testEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/repositories" {
			t.Errorf("unexpected request %s", r.URL.Path)
		}
		io.WriteString(w, `{"repositories":[{"id":"repo-1","name":"dashboard"}]}`)
	})
	w := wizard.New(wizard.Options{CreatedBy: "alice"})
	err := fillDraft(context.Background(), env, w, createFlags{
		prompt:   "Fix the login redirect",
		title:    "Fix login redirect",
		priority: "p1",
		preset:   "quick-fix",
		template: "bugfix",
		criteria: []string{"Redirect goes back to the original page"},
	})
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("draft should be valid: %v", err)
	}
	p := w.Payload()
	if p.RepositoryID != "repo-1" || p.Priority != domain.PriorityP1 || p.Description != "Fix the login redirect" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if last := p.SuccessCriteria[len(p.SuccessCriteria)-1]; last != "Redirect goes back to the original page" {
		t.Fatalf("custom criterion missing, got %q", last)
	}
	if w.Draft().CriteriaTemplate != "" {
		t.Fatalf("criteria edited after template should be custom")
	}
}

func TestFillDraftRejectsBadResource(t *testing.T) {
	env := testEnv(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})
	w := wizard.New(wizard.Options{})
	err := fillDraft(context.Background(), env, w, createFlags{prompt: "x", resources: []string{"builder"}})
	if err == nil {
		t.Fatalf("expected malformed --resource to fail")
	}
}

func TestWithSelectedAgentsRemembersRoomSelection(t *testing.T) {
	env := testEnv(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()

	got, err := withSelectedAgents(ctx, env, "war-room", []string{"Forge", "sentinel"}, "ship it @forge")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "@sentinel ship it @forge" {
		t.Fatalf("unexpected content %q", got)
	}
	got, err = withSelectedAgents(ctx, env, "war-room", nil, "status?")
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if got != "@forge @sentinel status?" {
		t.Fatalf("stored selection not applied: %q", got)
	}
	if _, err := withSelectedAgents(ctx, env, "war-room", []string{"nobody"}, "hi"); err == nil {
		t.Fatalf("expected unknown agent error")
	}
}

func TestConfirmAnswers(t *testing.T) {
	var out bytes.Buffer
	if err := confirm(strings.NewReader("y\n"), &out, "Delete task t1?"); err != nil {
		t.Fatalf("y should confirm: %v", err)
	}
	if !strings.Contains(out.String(), "Delete task t1? [y/N]") {
		t.Fatalf("prompt not written: %q", out.String())
	}
	for _, answer := range []string{"n\n", "\n", "", "nope\n"} {
		if err := confirm(strings.NewReader(answer), io.Discard, "Delete?"); !errors.Is(err, errNotConfirmed) {
			t.Fatalf("answer %q should not confirm, got %v", answer, err)
		}
	}
}

func runDelete(t *testing.T, interactive bool, stdin string, args ...string) (int32, error) {
	t.Helper()
	var deletes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletes.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	viper.Set("workspace", t.TempDir())
	viper.Set("backend-url", srv.URL)
	t.Cleanup(viper.Reset)
	prev := stdinIsTerminal
	stdinIsTerminal = func() bool { return interactive }
	t.Cleanup(func() { stdinIsTerminal = prev })

	cmd := taskDeleteCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return deletes.Load(), err
}

func TestTaskDeleteRequiresConfirmation(t *testing.T) {
	n, err := runDelete(t, false, "", "t1")
	if err == nil || n != 0 {
		t.Fatalf("non-interactive delete without --yes must be refused, deletes=%d err=%v", n, err)
	}

	n, err = runDelete(t, true, "n\n", "t1")
	if !errors.Is(err, errNotConfirmed) || n != 0 {
		t.Fatalf("declined prompt must not delete, deletes=%d err=%v", n, err)
	}

	n, err = runDelete(t, true, "y\n", "t1")
	if err != nil || n != 1 {
		t.Fatalf("confirmed prompt should delete once, deletes=%d err=%v", n, err)
	}

	n, err = runDelete(t, false, "", "t1", "--yes")
	if err != nil || n != 1 {
		t.Fatalf("--yes should delete once, deletes=%d err=%v", n, err)
	}
}
