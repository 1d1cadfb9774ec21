package httpapi

import (
	"context"
	"strings"
	"time"

	"chatmate/internal/chat"
	"chatmate/internal/common/fsutil"
	"chatmate/internal/events"
	"chatmate/internal/model"
	"chatmate/internal/registry"
	"chatmate/internal/session"
	"chatmate/pkg/types"
)

// ChatService adapts a session and its coordinator to Service.
type ChatService struct {
	Session *session.Session
	Chat    *chat.Coordinator
	Bus     *events.Bus
	// ModelsDir is listed by GET /models.
	ModelsDir string
	// SearchDirs resolve LoadRequest.Model names.
	SearchDirs []string

	started time.Time
}

// NewChatService wires a Service. bus must be the publisher given to both the
// session and the coordinator for GET /events to see their events.
func NewChatService(s *session.Session, c *chat.Coordinator, bus *events.Bus, modelsDir string, searchDirs []string) *ChatService {
	return &ChatService{
		Session:    s,
		Chat:       c,
		Bus:        bus,
		ModelsDir:  modelsDir,
		SearchDirs: append([]string(nil), searchDirs...),
		started:    time.Now(),
	}
}

func (cs *ChatService) Status() types.StatusResponse {
	st := cs.Session.Status()
	out := types.StatusResponse{
		State:          string(st.State),
		Reason:         st.Reason,
		GenerationID:   st.GenerationID,
		Generating:     cs.Chat.IsGenerating(),
		ModelPath:      st.ModelPath,
		Model:          modelInfo(st.Model),
		MessageCount:   len(cs.Chat.Messages()),
		UptimeSeconds:  int64(time.Since(cs.started).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if err := cs.Chat.LastError(); err != nil {
		out.LastError = err.Error()
	}
	return out
}

// Ready reports whether the session holds a usable model.
func (cs *ChatService) Ready() bool {
	st, _ := cs.Session.State()
	return st == session.StateReady || st == session.StateGenerating
}

func (cs *ChatService) Messages() types.MessagesResponse {
	msgs := cs.Chat.Messages()
	out := types.MessagesResponse{Messages: make([]types.MessageView, 0, len(msgs)), Generating: cs.Chat.IsGenerating()}
	for _, m := range msgs {
		out.Messages = append(out.Messages, messageView(m))
	}
	return out
}

func (cs *ChatService) Models() ([]types.ModelEntry, error) {
	if strings.TrimSpace(cs.ModelsDir) == "" {
		return nil, nil
	}
	dir, err := fsutil.ExpandHome(cs.ModelsDir)
	if err != nil {
		return nil, err
	}
	if !fsutil.PathExists(dir) {
		return nil, nil
	}
	list, err := registry.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]types.ModelEntry, 0, len(list))
	for _, m := range list {
		out = append(out, types.ModelEntry{ID: m.ID, Name: m.Name, Path: m.Path, SizeBytes: m.SizeBytes})
	}
	return out, nil
}

func (cs *ChatService) Submit(ctx context.Context, text string) (types.SubmitResponse, error) {
	if err := cs.Chat.Submit(ctx, text); err != nil {
		return types.SubmitResponse{}, err
	}
	var resp types.SubmitResponse
	msgs := cs.Chat.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant && msgs[i].GenerationID != 0 {
			resp.GenerationID = msgs[i].GenerationID
			resp.MessageID = msgs[i].ID.String()
			break
		}
	}
	return resp, nil
}

func (cs *ChatService) Stop(ctx context.Context) error  { return cs.Chat.Stop(ctx) }
func (cs *ChatService) Clear(ctx context.Context) error { return cs.Chat.Clear(ctx) }

// Load resolves req (Path first, then Model in SearchDirs) and loads it.
func (cs *ChatService) Load(ctx context.Context, req types.LoadRequest) (types.StatusResponse, error) {
	var path string
	if p := strings.TrimSpace(req.Path); p != "" {
		expanded, err := fsutil.ExpandHome(p)
		if err != nil {
			return types.StatusResponse{}, err
		}
		path = expanded
	} else {
		resolved, err := registry.Resolve(req.Model, cs.SearchDirs)
		if err != nil {
			return types.StatusResponse{}, err
		}
		path = resolved
	}
	if err := cs.Chat.LoadModel(ctx, path); err != nil {
		return types.StatusResponse{}, err
	}
	return cs.Status(), nil
}

func (cs *ChatService) Subscribe(buf int) (<-chan events.Event, func()) {
	return cs.Bus.Subscribe(buf)
}

func modelInfo(i *model.Info) *types.ModelInfo {
	if i == nil {
		return nil
	}
	return &types.ModelInfo{
		Name:          i.Name,
		Path:          i.Path,
		Architecture:  i.Architecture,
		ContextSize:   i.ContextSize,
		Vocab:         i.Vocab,
		FileSizeBytes: i.FileSize,
		Backend:       i.Backend,
	}
}

func messageView(m chat.Message) types.MessageView {
	return types.MessageView{
		ID:           m.ID.String(),
		Role:         string(m.Role),
		Content:      m.Content,
		CreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339),
		GenerationID: m.GenerationID,
		InProgress:   m.InProgress,
	}
}
