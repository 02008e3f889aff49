package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

// MockInference is a testify mock of schemas.InferenceClient.
type MockInference struct {
	mock.Mock
}

func (m *MockInference) Infer(ctx context.Context, p schemas.Persona, prompt string) (string, error) {
	args := m.Called(ctx, p, prompt)
	return args.String(0), args.Error(1)
}

// scriptedInference answers by persona ID and records every prompt.
type scriptedInference struct {
	mu      sync.Mutex
	answers map[string]string
	fail    map[string]error
	prompts map[string][]string
}

func newScriptedInference() *scriptedInference {
	return &scriptedInference{answers: map[string]string{}, fail: map[string]error{}, prompts: map[string][]string{}}
}

func (s *scriptedInference) Infer(_ context.Context, p schemas.Persona, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[p.ID] = append(s.prompts[p.ID], prompt)
	if err := s.fail[p.ID]; err != nil {
		return "", err
	}
	if a, ok := s.answers[p.ID]; ok {
		return a, nil
	}
	return "answer from " + p.ID, nil
}

func (s *scriptedInference) calls(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[id]...)
}

// fakeRetriever serves canned bodies by address.
type fakeRetriever struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	called []string
}

func newFakeRetriever() *fakeRetriever {
	return &fakeRetriever{pages: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRetriever) Fetch(ctx context.Context, address string) (*schemas.Document, error) {
	f.mu.Lock()
	f.called = append(f.called, address)
	body, ok := f.pages[address]
	err := f.errs[address]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no route to %s", address)
	}
	return &schemas.Document{Address: address, StatusCode: 200, ContentType: "text/html", Body: []byte(body), FetchedAt: time.Now()}, nil
}

func (f *fakeRetriever) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.called...)
}

// stubEnricher returns fixed findings for the artifact types it knows.
type stubEnricher struct {
	name     string
	findings map[schemas.ArtifactType][]schemas.EnrichmentFinding
	err      error

	mu     sync.Mutex
	looked []string
}

func (s *stubEnricher) Name() string { return s.name }

func (s *stubEnricher) Lookup(_ context.Context, a schemas.Artifact) ([]schemas.EnrichmentFinding, error) {
	s.mu.Lock()
	s.looked = append(s.looked, a.Key())
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.findings[a.Type], nil
}

func (s *stubEnricher) lookups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.looked...)
}

// viewOf builds a field view holding the payloads as emitted by a seed agent.
func viewOf(t *testing.T, ps ...schemas.Payload) *field.View {
	t.Helper()
	f, err := field.New(field.DefaultConfig(), nil)
	require.NoError(t, err)
	seed := NewBase("seed", "seed", 0, nil)
	for _, s := range seed.Emit(ps) {
		_, err := f.Submit(s)
		require.NoError(t, err)
	}
	return f.View()
}

func resultPage(links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i, l := range links {
		fmt.Fprintf(&b, `<a href="%s">Result title %d</a>`, l, i+1)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func articlePage(title, text string) string {
	return "<html><head><title>" + title + "</title></head><body><p>" + text + "</p><script>var x = 1;</script></body></html>"
}

// stubWallets answers with an empty history and fails addresses listed in fail.
type stubWallets struct {
	mu       sync.Mutex
	fail     map[string]error
	analyzed []string
}

func (s *stubWallets) Supports(t schemas.ArtifactType) bool {
	return t == schemas.ArtifactBitcoin || t == schemas.ArtifactEthereum
}

func (s *stubWallets) Analyze(_ context.Context, a schemas.Artifact) (schemas.BlockchainAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzed = append(s.analyzed, a.Value)
	if err := s.fail[a.Value]; err != nil {
		return schemas.BlockchainAnalysis{}, err
	}
	return schemas.BlockchainAnalysis{Address: a.Value, Chain: string(a.Type), Analysis: schemas.WalletAnalysis{TxCount: 2}}, nil
}

func (s *stubWallets) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.analyzed...)
}

// stubPasteSite returns fixed pastes per query.
type stubPasteSite struct {
	name   string
	pastes map[string][]schemas.PasteContent
	err    error

	mu      sync.Mutex
	queries []string
}

func (s *stubPasteSite) Name() string { return s.name }

func (s *stubPasteSite) Search(_ context.Context, query string) ([]schemas.PasteContent, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.pastes[query], nil
}

func (s *stubPasteSite) searched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}
