package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hrygo/clinote/plugin/ai/preprocess"
	serverai "github.com/hrygo/clinote/server/ai"
	apiv1 "github.com/hrygo/clinote/server/router/api/v1"
	"github.com/hrygo/clinote/server/runner/embedding"
	notesvc "github.com/hrygo/clinote/server/service/note"
	"github.com/hrygo/clinote/store"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and validate a note from a text file and print the result as JSON",
	RunE:  runGenerate,
}

var queryCmd = &cobra.Command{
	Use:   "query QUESTION",
	Short: "Answer a question over approved notes",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed every approved note that has no vector yet",
	RunE:  runBackfill,
}

func init() {
	f := generateCmd.Flags()
	f.String("file", "-", `session text file, "-" reads stdin`)
	f.String("patient", "", "patient id")
	f.String("session", "", "session id")
	f.String("professional", "", "professional id")
	f.String("note-type", "", "note type (default soap_note)")
	f.String("visit-date", "", "visit date, YYYY-MM-DD (default now)")

	q := queryCmd.Flags()
	q.String("patient", "", "only notes of this patient")
	q.String("session", "", "only notes of this session")
	q.String("professional", "", "only notes of this professional")
	q.String("from", "", "earliest visit date, RFC 3339 or YYYY-MM-DD")
	q.String("to", "", "latest visit date, RFC 3339 or YYYY-MM-DD")
	q.Int("top-k", 0, "candidates retrieved (1-50, default 5)")
	q.Int("rerank-top-n", 0, "chunks kept after rerank (1-10, default 3)")
	q.Float64("threshold", 0, "similarity threshold (0-1, default 0.7)")
	q.String("subject", "", "one-line subject descriptor for the answer prompt")
}

// aiSession is a store plus the AI components built on it.
type aiSession struct {
	store    *store.Store
	provider *serverai.Provider
}

func openAISession(ctx context.Context) (*aiSession, error) {
	p, err := loadProfile()
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, p)
	if err != nil {
		return nil, err
	}
	provider, err := serverai.NewProvider(p, st, nil)
	if err != nil {
		_ = st.Close()
		if errors.Is(err, serverai.ErrDisabled) {
			return nil, errors.New("AI is disabled: set CLINOTE_AI_ENABLED=true and a provider key")
		}
		return nil, err
	}
	return &aiSession{store: st, provider: provider}, nil
}

func (s *aiSession) Close() {
	_ = s.store.Close()
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()

	path, _ := f.GetString("file")
	text, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	req := &notesvc.GenerateRequest{Text: text}
	req.PatientID, _ = f.GetString("patient")
	req.SessionID, _ = f.GetString("session")
	req.ProfessionalID, _ = f.GetString("professional")
	req.NoteType, _ = f.GetString("note-type")
	if visit, _ := f.GetString("visit-date"); visit != "" {
		t, err := time.Parse(time.DateOnly, visit)
		if err != nil {
			return fmt.Errorf("invalid --visit-date: %w", err)
		}
		req.VisitTs = t.Unix()
	}

	session, err := openAISession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	svc := notesvc.NewService(session.store, session.provider.Controller, session.provider.NoteEmbedder,
		notesvc.WithMasker(preprocess.PatternMasker{}),
	)
	result, err := svc.GenerateAndValidate(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()

	req := &apiv1.QueryRequest{Query: args[0]}
	req.PatientID, _ = f.GetString("patient")
	req.SessionID, _ = f.GetString("session")
	req.ProfessionalID, _ = f.GetString("professional")
	req.DateFrom, _ = f.GetString("from")
	req.DateTo, _ = f.GetString("to")
	req.SubjectContext, _ = f.GetString("subject")
	if f.Changed("top-k") {
		v, _ := f.GetInt("top-k")
		req.TopK = &v
	}
	if f.Changed("rerank-top-n") {
		v, _ := f.GetInt("rerank-top-n")
		req.RerankTopN = &v
	}
	if f.Changed("threshold") {
		v, _ := f.GetFloat64("threshold")
		req.SimilarityThreshold = &v
	}

	spec, err := req.ToSpec()
	if err != nil {
		return fmt.Errorf("invalid date filter: %w", err)
	}
	// Reject bad ranges before opening the store or building any model client.
	if err := spec.Validate(); err != nil {
		return err
	}

	session, err := openAISession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	result, err := session.provider.Engine.Query(ctx, spec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Answer)
	if len(result.Sources) > 0 {
		fmt.Fprintf(out, "\nSources (confidence %.2f):\n", result.Confidence)
		for _, source := range result.Sources {
			fmt.Fprintln(out, "  "+source)
		}
	}
	return nil
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	session, err := openAISession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	stats := embedding.NewRunner(session.store, session.provider.NoteEmbedder).Backfill(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "found %d, embedded %d, failed %d\n", stats.Found, stats.Embedded, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d notes failed to embed", stats.Failed)
	}
	return nil
}

func readInput(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
