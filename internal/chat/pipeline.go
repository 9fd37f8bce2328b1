// Package chat runs one conversational turn: persist the question, retrieve
// document context, stream the answer while persisting the outcome.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/luminachat/lumina/internal/apperr"
	"github.com/luminachat/lumina/internal/llm"
	"github.com/luminachat/lumina/internal/models"
	"github.com/luminachat/lumina/internal/store"
	"github.com/luminachat/lumina/internal/vectorstore"
)

const (
	// retrieved segments per turn
	topK = 4
	// prior messages included in the prompt window
	historyWindow = 6
)

// Store is the slice of the document store the pipeline needs.
type Store interface {
	GetFileForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.File, error)
	CreateMessage(ctx context.Context, p store.CreateMessageParams) (*models.Message, error)
	ListRecentMessages(ctx context.Context, fileID uuid.UUID, limit int) ([]models.Message, error)
	ListMessagesPage(ctx context.Context, fileID uuid.UUID, limit int, cursor *uuid.UUID) ([]models.Message, error)
}

type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

type Querier interface {
	Query(ctx context.Context, namespace uuid.UUID, vector []float32, k int) ([]vectorstore.ScoredSegment, error)
}

type Pipeline struct {
	store    Store
	embedder Embedder
	index    Querier
	gateway  llm.Gateway
	model    string
}

func NewPipeline(st Store, emb Embedder, idx Querier, gw llm.Gateway, model string) *Pipeline {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &Pipeline{store: st, embedder: emb, index: idx, gateway: gw, model: model}
}

// SendRequest is one chat turn. Emit receives each generated fragment as it
// arrives; an error from Emit is treated as caller disconnect.
type SendRequest struct {
	FileID  uuid.UUID
	OwnerID string
	Text    string
	Emit    func(fragment string) error
}

// Send runs the turn. The user message is persisted before any retrieval or
// generation work; the assistant message is persisted exactly once, with the
// full answer on graceful completion or with whatever was accumulated when
// the stream ends abnormally. Only an answer with nothing accumulated
// persists nothing.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: empty message", apperr.ErrInvalidInput)
	}

	file, err := p.store.GetFileForOwner(ctx, req.FileID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	if _, err := p.store.CreateMessage(ctx, store.CreateMessageParams{
		FileID:        file.ID,
		OwnerID:       req.OwnerID,
		Text:          req.Text,
		IsUserMessage: true,
	}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	queryVec, err := p.embedder.EmbedSingle(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", apperr.ErrUpstream, err)
	}

	results, err := p.index.Query(ctx, file.ID, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve context: %v", apperr.ErrUpstream, err)
	}

	history, err := p.store.ListRecentMessages(ctx, file.ID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	stream, err := p.gateway.ChatStream(ctx, llm.ChatRequest{
		Model:    p.model,
		Messages: buildPrompt(history, results, req.Text),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open stream: %v", apperr.ErrUpstream, err)
	}

	return p.consume(ctx, stream, file.ID, req.OwnerID, req.Emit)
}

// consume forwards fragments as they arrive and persists the accumulated
// answer. The user message write already happened; this is the only other
// write of the turn.
func (p *Pipeline) consume(ctx context.Context, stream <-chan llm.StreamChunk, fileID uuid.UUID, ownerID string, emit func(string) error) (*models.Message, error) {
	var acc strings.Builder

	for {
		select {
		case <-ctx.Done():
			return p.finish(ctx, fileID, ownerID, acc.String(), fmt.Errorf("%w: %v", apperr.ErrStreamInterrupted, ctx.Err()))
		case chunk, ok := <-stream:
			if !ok {
				return p.finish(ctx, fileID, ownerID, acc.String(), nil)
			}
			if chunk.Error != nil {
				return p.finish(ctx, fileID, ownerID, acc.String(), fmt.Errorf("%w: %v", apperr.ErrUpstream, chunk.Error))
			}
			if chunk.Content != "" {
				acc.WriteString(chunk.Content)
				if emit != nil {
					if err := emit(chunk.Content); err != nil {
						return p.finish(ctx, fileID, ownerID, acc.String(), fmt.Errorf("%w: %v", apperr.ErrStreamInterrupted, err))
					}
				}
			}
			if chunk.Done {
				return p.finish(ctx, fileID, ownerID, acc.String(), nil)
			}
		}
	}
}

// finish persists the assistant turn. On abnormal termination the partial
// answer is kept so history matches what the caller actually saw; an empty
// accumulator persists nothing and only the failure is surfaced.
func (p *Pipeline) finish(ctx context.Context, fileID uuid.UUID, ownerID, text string, cause error) (*models.Message, error) {
	if text == "" {
		if cause == nil {
			return nil, fmt.Errorf("%w: empty completion", apperr.ErrUpstream)
		}
		return nil, cause
	}

	// Persistence must survive caller cancellation.
	msg, err := p.store.CreateMessage(context.WithoutCancel(ctx), store.CreateMessageParams{
		FileID:        fileID,
		OwnerID:       ownerID,
		Text:          text,
		IsUserMessage: false,
	})
	if err != nil {
		if cause != nil {
			return nil, errors.Join(cause, fmt.Errorf("persist assistant message: %w", err))
		}
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	if cause != nil {
		slog.Warn("stream ended abnormally, partial answer persisted",
			"file_id", fileID, "message_id", msg.ID, "error", cause)
		return msg, cause
	}
	return msg, nil
}

// History returns one page of conversation, newest first, and the cursor for
// the next page per the limit+1 convention.
func (p *Pipeline) History(ctx context.Context, fileID uuid.UUID, ownerID string, limit int, cursor *uuid.UUID) ([]models.Message, *uuid.UUID, error) {
	if _, err := p.store.GetFileForOwner(ctx, fileID, ownerID); err != nil {
		return nil, nil, err
	}

	msgs, err := p.store.ListMessagesPage(ctx, fileID, limit+1, cursor)
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *uuid.UUID
	if len(msgs) > limit {
		next := msgs[limit].ID
		msgs = msgs[:limit]
		nextCursor = &next
	}
	return msgs, nextCursor, nil
}

func buildPrompt(history []models.Message, results []vectorstore.ScoredSegment, question string) []llm.Message {
	var prev strings.Builder
	for _, m := range history {
		role := "Assistant"
		if m.IsUserMessage {
			role = "User"
		}
		fmt.Fprintf(&prev, "%s: %s\n", role, m.Text)
	}

	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Content
	}

	return []llm.Message{
		{
			Role: "system",
			Content: "You are a knowledgeable and detail-oriented assistant. " +
				"Your task is to analyze the provided context and prior conversation to respond to the user's question accurately. " +
				"Format your response in markdown. " +
				"If you are unsure or lack sufficient information to answer confidently, clearly state that you don't know.",
		},
		{
			Role: "user",
			Content: fmt.Sprintf(`Answer the user's question based on the following information:

**Previous Conversation:**
%s
**Context:**
%s

**User's Question:**
%s

**Instructions:**
1. Format your response in markdown.
2. Reference specific parts of the context or conversation if applicable.
3. If the provided information is insufficient for a confident answer, indicate that explicitly.
4. Offer to clarify or provide additional details if necessary.`,
				prev.String(), strings.Join(contexts, "\n\n"), question),
		},
	}
}
