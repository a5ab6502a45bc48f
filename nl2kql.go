package nl2kql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/cespare/xxhash"
)

// Domain is the telemetry category a question is routed to. It determines
// which example corpus and table vocabulary apply during translation.
type Domain string

const (
	// DomainAppInsights covers application telemetry: requests, exceptions,
	// traces, dependencies.
	DomainAppInsights Domain = "appinsights"
	// DomainContainers covers container and Kubernetes telemetry: pod logs,
	// inventories, events.
	DomainContainers Domain = "containers"
)

// ModelFamily distinguishes completion models by the request shape they accept.
type ModelFamily string

const (
	// ModelFamilyStandard models accept separate system/user messages plus
	// temperature and top_p knobs.
	ModelFamilyStandard ModelFamily = "standard"
	// ModelFamilyConstrained models accept only a single user message and a
	// max-completion-tokens field, with no sampling knobs.
	ModelFamilyConstrained ModelFamily = "constrained"
)

// Example is one worked question/query pair parsed from a reference corpus
// file. Examples are immutable once parsed; their identity is positional
// within their source corpus.
type Example struct {
	Question string
	Query    string
}

// FunctionSignature describes one helper function declared in a KQL reference
// file, with an optional one-line description taken from the comment above it.
type FunctionSignature struct {
	Signature   string
	Description string
}

// DomainContext carries the reference material a domain handler contributes
// to prompt assembly: the worked examples, a capsule summary excerpt, and the
// helper function index.
type DomainContext struct {
	Examples  []Example
	Capsule   string
	Functions []FunctionSignature
}

// DomainHandler supplies the reference corpus and auxiliary context for one
// domain. Implementations live in the handler package.
type DomainHandler interface {
	Context() (DomainContext, error)
}

// ChatRequest carries the parameters for one orchestrated chat completion.
// MaxOutputTokens and Temperature of zero defer to the client's configured
// defaults.
type ChatRequest struct {
	SystemPrompt    string
	UserPrompt      string
	Purpose         string
	MaxOutputTokens int
	Temperature     *float32
	TopP            *float32
	AllowEscalation bool
}

// ChatMetadata records how a completion was obtained, for logging and
// telemetry events.
type ChatMetadata struct {
	ModelFamily      ModelFamily
	Deployment       string
	InitialMaxTokens int
	FinalMaxTokens   int
	Temperature      float32
	ErrorCode        string
	PromptTokens     int
	CompletionTokens int
}

// ChatResult is the outcome of one orchestrated chat completion, including
// the retry and escalation bookkeeping.
type ChatResult struct {
	Content      string
	FinishReason string
	Attempts     int
	Escalated    bool
	Metadata     ChatMetadata
}

// ChatClient issues a chat completion, handling transport retries and token
// escalation internally. The returned ChatResult is valid even when err is
// non-nil, carrying attempt counts and the classified error code.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResult, error)
}

// VectorIndex scores corpus examples against a question by embedding
// similarity. Implementations are best-effort: any failure makes the
// selector degrade to heuristic-only scoring.
type VectorIndex interface {
	// IndexExamples stores embeddings for a domain's examples, keyed by
	// corpus index. Indexing the same domain twice is a no-op.
	IndexExamples(ctx context.Context, domain Domain, examples []Example) error
	// Similarities returns cosine similarity per corpus index for up to n
	// examples of the domain.
	Similarities(ctx context.Context, domain Domain, question string, n int) (map[int]float64, error)
}

// CorpusCache stores parsed examples keyed by source path and content hash,
// so corpus files are only re-parsed when they change.
type CorpusCache interface {
	Examples(path string, sum uint64) ([]Example, bool, error)
	PutExamples(path string, sum uint64, examples []Example) error
}

// ErrAmbiguousDomain is returned when a question carries no keyword or
// table-name signal for any domain. The caller must not guess.
var ErrAmbiguousDomain = errors.New("unable to classify question domain")

// ErrorKind tags a TranslateError with the pipeline phase that failed.
type ErrorKind string

const (
	// ErrKindClassification means the question could not be assigned a domain.
	ErrKindClassification ErrorKind = "classification"
	// ErrKindCorpus means the domain's reference corpus could not be loaded.
	ErrKindCorpus ErrorKind = "corpus"
	// ErrKindExhausted means every pipeline attempt failed and no fallback
	// example was close enough to reuse.
	ErrKindExhausted ErrorKind = "exhausted"
)

// TranslateError is the failure variant of a translation. The sentinel-string
// rendering used by CLI and web callers is produced by Sentinel; the pipeline
// itself never mixes error text into the query string.
type TranslateError struct {
	Kind     ErrorKind
	Question string
	Err      error
}

func (e *TranslateError) Error() string {
	return fmt.Sprintf("translate %q: %s: %v", e.Question, e.Kind, e.Err)
}

func (e *TranslateError) Unwrap() error { return e.Err }

// Sentinel renders the error in the fixed "// Error: ..." form that
// surrounding CLI, web, and MCP collaborators display uniformly.
func (e *TranslateError) Sentinel() string {
	return fmt.Sprintf("// Error: could not translate question to KQL: %s\n// %v", e.Question, e.Err)
}

// fatalAttempt reports errors that no pipeline-level retry can fix, such as
// authentication or deployment-not-found failures from the chat client.
type fatalAttempt interface {
	Fatal() bool
}

func isFatalAttempt(err error) bool {
	var f fatalAttempt
	return errors.As(err, &f) && f.Fatal()
}

func promptTemplate(name, templ string, data any) (string, error) {
	buf := strings.Builder{}
	tmpl := template.Must(template.New(name).Parse(templ))
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// stableHash returns a short stable hex digest, used to tag prompt layers in
// metadata and telemetry without carrying their full text.
func stableHash(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}
