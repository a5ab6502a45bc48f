package nl2kql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options tunes a Translator. The zero value is completed by DefaultOptions
// values inside New.
type Options struct {
	// TopK is the number of corpus examples carried into the prompt.
	TopK int

	// PromptTokenBudget caps the assembled system prompt; compression
	// stages engage above it.
	PromptTokenBudget int

	// MaxAttempts bounds translation attempts per question. Attempts after
	// the first use the slim prompt.
	MaxAttempts int

	// FallbackMinScore is the minimum shared-token count between the
	// question and an example before the example's query is reused as the
	// final fallback.
	FallbackMinScore int

	// Deadline bounds a whole Translate call including retries. Zero means
	// the caller's context governs alone.
	Deadline time.Duration
}

// DefaultOptions returns the tuning used when New receives zero values.
func DefaultOptions() Options {
	return Options{
		TopK:              3,
		PromptTokenBudget: defaultTokenBudget,
		MaxAttempts:       3,
		FallbackMinScore:  2,
	}
}

// Result is a successful translation.
type Result struct {
	// Query is the final KQL, prefixed with a provenance comment.
	Query string

	Domain   Domain
	Attempts int
	Stage    CompressionStage

	// Fallback reports that the query was reused verbatim from a corpus
	// example after all model attempts failed. ReusedQuestion names the
	// example it came from.
	Fallback       bool
	ReusedQuestion string
}

// Translator turns natural-language questions into KQL queries using a chat
// model, a per-domain example corpus, and an optional vector index. It is
// safe for concurrent use.
type Translator struct {
	chat     ChatClient
	handlers map[Domain]DomainHandler
	index    VectorIndex
	logger   *slog.Logger
	options  Options

	// embedDisabled latches on after the first vector index failure so a
	// broken embedding backend degrades to lexical scoring instead of
	// failing every call.
	embedDisabled atomic.Bool

	indexedMu sync.Mutex
	indexed   map[Domain]bool
}

// New creates a Translator. handlers must cover every Domain the classifier
// can emit. index may be nil, in which case selection is purely lexical.
func New(chat ChatClient, handlers map[Domain]DomainHandler, index VectorIndex,
	logger *slog.Logger, options Options,
) (*Translator, error) {
	if chat == nil {
		return nil, errors.New("chat client must not be nil")
	}
	if len(handlers) == 0 {
		return nil, errors.New("at least one domain handler is required")
	}

	def := DefaultOptions()
	if options.TopK <= 0 {
		options.TopK = def.TopK
	}
	if options.PromptTokenBudget <= 0 {
		options.PromptTokenBudget = def.PromptTokenBudget
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = def.MaxAttempts
	}
	if options.FallbackMinScore <= 0 {
		options.FallbackMinScore = def.FallbackMinScore
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Translator{
		chat:     chat,
		handlers: handlers,
		index:    index,
		logger:   logger.With(slog.String("module", "translator")),
		options:  options,
		indexed:  make(map[Domain]bool),
	}, nil
}

// Translate converts a question into KQL. Errors are always *TranslateError
// so callers can render the sentinel form at the boundary.
func (t *Translator) Translate(ctx context.Context, question string) (Result, error) {
	if t.options.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.options.Deadline)
		defer cancel()
	}

	question = strings.TrimSpace(question)
	logger := t.logger.With(slog.String("question", question))

	if query, ok := cannedQuery(question); ok {
		logger.Debug("Answered with canned meta query")
		return Result{Query: query, Attempts: 0}, nil
	}

	domain, err := DetectDomain(question)
	if err != nil {
		return Result{}, &TranslateError{Kind: ErrKindClassification, Question: question, Err: err}
	}
	logger = logger.With(slog.String("domain", string(domain)))

	handler, ok := t.handlers[domain]
	if !ok {
		return Result{}, &TranslateError{
			Kind:     ErrKindCorpus,
			Question: question,
			Err:      fmt.Errorf("no handler registered for domain %s", domain),
		}
	}

	domainCtx, err := handler.Context()
	if err != nil {
		return Result{}, &TranslateError{
			Kind:     ErrKindCorpus,
			Question: question,
			Err:      fmt.Errorf("failed to load domain context: %w", err),
		}
	}

	sims := t.similarities(ctx, domain, question, domainCtx.Examples, logger)
	selected := SelectExamples(question, domainCtx.Examples, sims, t.options.TopK)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < t.options.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		slim := attempt > 0
		pc, promptErr := BuildPrompt(question, domain, selected, domainCtx,
			t.options.PromptTokenBudget, slim)
		if promptErr != nil {
			lastErr = promptErr
			break
		}

		attempts++
		res, chatErr := t.chat.Complete(ctx, ChatRequest{
			SystemPrompt:    pc.System,
			UserPrompt:      pc.User,
			Purpose:         "translate",
			AllowEscalation: true,
		})
		if chatErr != nil {
			lastErr = chatErr
			if isFatalAttempt(chatErr) || ctx.Err() != nil {
				logger.Warn("Translation attempt failed fatally",
					slog.Int("attempt", attempt), slog.String("err", chatErr.Error()))
				break
			}
			logger.Warn("Translation attempt failed",
				slog.Int("attempt", attempt), slog.String("err", chatErr.Error()))
			continue
		}

		query := NormalizeQuery(res.Content)
		if validErr := ValidateQuery(query); validErr != nil {
			lastErr = validErr
			logger.Warn("Completion rejected by validation",
				slog.Int("attempt", attempt), slog.String("err", validErr.Error()))
			continue
		}

		if attempt > 0 {
			logger.Info("Translation succeeded on retry",
				slog.Int("attempt", attempt), slog.Bool("slim", slim))
		}
		meta := fmt.Sprintf("// meta: domain=%s slim=%t examples_included=%t selected_examples=%d stage=%s\n",
			domain, slim, len(selected) > 0, len(selected), pc.Stage)
		return Result{
			Query:    meta + query,
			Domain:   domain,
			Attempts: attempts,
			Stage:    pc.Stage,
		}, nil
	}

	if fb, ok := t.exampleFallback(question, domainCtx.Examples); ok {
		logger.Info("Falling back to reused corpus example",
			slog.String("reused_question", fb.ReusedQuestion))
		fb.Domain = domain
		fb.Attempts = attempts
		return fb, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no translation attempts were made")
	}
	return Result{}, &TranslateError{Kind: ErrKindExhausted, Question: question, Err: lastErr}
}

// TranslateString is the boundary form of Translate: failures are rendered
// as the comment sentinel instead of an error value.
func (t *Translator) TranslateString(ctx context.Context, question string) string {
	res, err := t.Translate(ctx, question)
	if err != nil {
		var terr *TranslateError
		if errors.As(err, &terr) {
			return terr.Sentinel()
		}
		terr = &TranslateError{Kind: ErrKindExhausted, Question: question, Err: err}
		return terr.Sentinel()
	}
	return res.Query
}

// similarities queries the vector index, indexing the domain corpus on first
// use. Any failure disables embeddings for the Translator's lifetime.
func (t *Translator) similarities(ctx context.Context, domain Domain, question string,
	examples []Example, logger *slog.Logger,
) map[int]float64 {
	if t.index == nil || t.embedDisabled.Load() || len(examples) == 0 {
		return nil
	}

	t.indexedMu.Lock()
	if !t.indexed[domain] {
		if err := t.index.IndexExamples(ctx, domain, examples); err != nil {
			t.indexedMu.Unlock()
			t.embedDisabled.Store(true)
			logger.Warn("Disabling embedding similarity after indexing failure",
				slog.String("err", err.Error()))
			return nil
		}
		t.indexed[domain] = true
	}
	t.indexedMu.Unlock()

	sims, err := t.index.Similarities(ctx, domain, question, len(examples))
	if err != nil {
		t.embedDisabled.Store(true)
		logger.Warn("Disabling embedding similarity after query failure",
			slog.String("err", err.Error()))
		return nil
	}
	return sims
}

// exampleFallback reuses the closest corpus example's query when translation
// is exhausted and the example shares enough tokens with the question.
func (t *Translator) exampleFallback(question string, examples []Example) (Result, bool) {
	qTokens := tokenize(strings.ToLower(question))
	if len(qTokens) == 0 {
		return Result{}, false
	}
	qSet := make(map[string]struct{}, len(qTokens))
	for _, tok := range qTokens {
		qSet[tok] = struct{}{}
	}

	bestShared := 0
	bestIdx := -1
	for i, example := range examples {
		shared := 0
		for _, tok := range tokenize(strings.ToLower(example.Question)) {
			if _, ok := qSet[tok]; ok {
				shared++
			}
		}
		if shared > bestShared {
			bestShared = shared
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestShared < t.options.FallbackMinScore {
		return Result{}, false
	}

	example := examples[bestIdx]
	return Result{
		Query: fmt.Sprintf("// fallback: reused example for question '%s'\n%s",
			example.Question, example.Query),
		Fallback:       true,
		ReusedQuestion: example.Question,
	}, true
}

// schemaTables maps lowercased table mentions to their canonical names for
// canned schema answers.
var schemaTables = []struct{ mention, table string }{
	{"apprequests", "AppRequests"},
	{"appexceptions", "AppExceptions"},
	{"apptraces", "AppTraces"},
	{"appdependencies", "AppDependencies"},
	{"apppageviews", "AppPageViews"},
	{"appcustomevents", "AppCustomEvents"},
	{"containerlogv2", "ContainerLogV2"},
	{"kubepodinventory", "KubePodInventory"},
	{"heartbeat", "Heartbeat"},
	{"usage", "Usage"},
}

// cannedQuery answers corpus-independent meta questions directly.
func cannedQuery(question string) (string, bool) {
	lower := strings.ToLower(question)

	for _, phrase := range []string{
		"list tables", "show tables", "available tables", "tables available", "what tables",
	} {
		if strings.Contains(lower, phrase) {
			return "search * | distinct $table | order by $table asc", true
		}
	}

	schemaAsk := false
	for _, phrase := range []string{"schema", "columns", "structure"} {
		if strings.Contains(lower, phrase) {
			schemaAsk = true
			break
		}
	}
	if !schemaAsk {
		return "", false
	}

	for _, entry := range schemaTables {
		if strings.Contains(lower, entry.mention) {
			return entry.table + " | getschema | project ColumnName, ColumnType", true
		}
	}
	domain, err := DetectDomain(question)
	if err != nil {
		return "", false
	}
	table := "AppRequests"
	if domain == DomainContainers {
		table = "ContainerLogV2"
	}
	return table + " | getschema | project ColumnName, ColumnType", true
}
