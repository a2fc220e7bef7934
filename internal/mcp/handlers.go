package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"

	"github.com/mfenderov/seqthink/internal/analysis"
	"github.com/mfenderov/seqthink/internal/archive"
	"github.com/mfenderov/seqthink/internal/storage"
	"github.com/mfenderov/seqthink/internal/thought"
)

var errArchiveDisabled = errors.New("session archive is disabled")

// Handler processes MCP tool calls against a thought store.
type Handler struct {
	store    *storage.Store
	archive  *archive.Archive // Optional: enables list_archives and restore_archive
	validate *validator.Validate
	logger   *log.Logger
}

// NewHandler creates a new MCP handler with the given store.
func NewHandler(store *storage.Store) *Handler {
	return &Handler{
		store:    store,
		validate: newValidator(),
		logger:   log.Default(),
	}
}

// WithArchive enables the archive tools.
func (h *Handler) WithArchive(a *archive.Archive) *Handler {
	h.archive = a
	return h
}

// WithLogger sets the logger used for tool activity.
func (h *Handler) WithLogger(logger *log.Logger) *Handler {
	h.logger = logger
	return h
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Tools returns the list of available thought tools.
func (h *Handler) Tools() []Tool {
	stringList := &Items{Type: "string"}

	tools := []Tool{
		{
			Name:        "process_thought",
			Description: "Record and analyze a sequential thought with its thinking stage and metadata",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"thought":               {Type: "string", Description: "The content of the thought"},
					"thoughtNumber":         {Type: "integer", Description: "Position of this thought in the sequence, starting at 1"},
					"totalThoughts":         {Type: "integer", Description: "Expected number of thoughts in the sequence"},
					"nextThoughtNeeded":     {Type: "boolean", Description: "Whether another thought follows this one"},
					"stage":                 {Type: "string", Description: "Thinking stage (case-insensitive)", Enum: h.store.Stages().Names()},
					"tags":                  {Type: "array", Description: "Keywords or categories", Items: stringList},
					"axiomsUsed":            {Type: "array", Description: "Principles or axioms applied", Items: stringList},
					"assumptionsChallenged": {Type: "array", Description: "Assumptions questioned or challenged", Items: stringList},
				},
				Required: []string{"thought", "thoughtNumber", "totalThoughts", "nextThoughtNeeded", "stage"},
			},
		},
		{
			Name:        "generate_summary",
			Description: "Summarize the recorded thoughts: stage counts, timeline, top tags and completion",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "clear_history",
			Description: "Remove every recorded thought from the current session",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "export_session",
			Description: "Write the current session to a file",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"filePath": {Type: "string", Description: "Destination file"},
				},
				Required: []string{"filePath"},
			},
		},
		{
			Name:        "import_session",
			Description: "Replace the current session with one previously exported to a file",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"filePath": {Type: "string", Description: "Session file to import"},
				},
				Required: []string{"filePath"},
			},
		},
	}

	if h.archive != nil {
		tools = append(tools,
			Tool{
				Name:        "list_archives",
				Description: "List sessions archived by clear, import or restore, newest first",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"limit": {Type: "integer", Description: fmt.Sprintf("Maximum entries to return (default %d)", archive.DefaultListLimit)},
					},
				},
			},
			Tool{
				Name:        "restore_archive",
				Description: "Replace the current session with an archived one",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"archiveId": {Type: "integer", Description: "ID from list_archives"},
					},
					Required: []string{"archiveId"},
				},
			},
		)
	}
	return tools
}

// CallTool executes the named tool with the given arguments. Failures of the
// operation itself are reported in the result; malformed calls return an error.
func (h *Handler) CallTool(name string, args json.RawMessage) (*ToolCallResult, error) {
	switch name {
	case "process_thought":
		return h.processThought(args)
	case "generate_summary":
		return h.generateSummary()
	case "clear_history":
		return h.clearHistory()
	case "export_session":
		return h.exportSession(args)
	case "import_session":
		return h.importSession(args)
	case "list_archives":
		return h.listArchives(args)
	case "restore_archive":
		return h.restoreArchive(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (h *Handler) processThought(args json.RawMessage) (*ToolCallResult, error) {
	var input ProcessThoughtInput
	if err := h.decode(args, &input); err != nil {
		return nil, err
	}
	if err := h.check(&input); err != nil {
		return failure(err), nil
	}

	t, err := thought.New(thought.Fields{
		Text:                  *input.Thought,
		Number:                *input.ThoughtNumber,
		Total:                 *input.TotalThoughts,
		NextNeeded:            *input.NextThoughtNeeded,
		Stage:                 *input.Stage,
		Tags:                  input.Tags,
		AxiomsUsed:            input.AxiomsUsed,
		AssumptionsChallenged: input.AssumptionsChallenged,
	}, h.store.Stages())
	if err != nil {
		return failure(err), nil
	}

	if err := h.store.Add(t); err != nil {
		h.logger.Error("failed to store thought", "number", t.Number, "err", err)
		return failure(err), nil
	}
	h.logger.Info("processed thought", "number", t.Number, "total", t.Total, "stage", t.Stage)

	return jsonResult(analysis.Analyze(t, h.store.All()))
}

func (h *Handler) generateSummary() (*ToolCallResult, error) {
	return jsonResult(analysis.Summarize(h.store.All(), h.store.Stages()))
}

func (h *Handler) clearHistory() (*ToolCallResult, error) {
	if err := h.store.Clear(); err != nil {
		return failure(err), nil
	}
	return ack("Thought history cleared")
}

func (h *Handler) exportSession(args json.RawMessage) (*ToolCallResult, error) {
	var input SessionFileInput
	if err := h.decode(args, &input); err != nil {
		return nil, err
	}
	if err := h.check(&input); err != nil {
		return failure(err), nil
	}

	if err := h.store.Export(input.FilePath); err != nil {
		return failure(err), nil
	}
	return ack(fmt.Sprintf("Session exported to %s", input.FilePath))
}

func (h *Handler) importSession(args json.RawMessage) (*ToolCallResult, error) {
	var input SessionFileInput
	if err := h.decode(args, &input); err != nil {
		return nil, err
	}
	if err := h.check(&input); err != nil {
		return failure(err), nil
	}

	if err := h.store.Import(input.FilePath); err != nil {
		return failure(err), nil
	}
	return ack(fmt.Sprintf("Session imported from %s (%d thoughts)", input.FilePath, h.store.Len()))
}

func (h *Handler) listArchives(args json.RawMessage) (*ToolCallResult, error) {
	var input ListArchivesInput
	if err := h.decode(args, &input); err != nil {
		return nil, err
	}
	if err := h.check(&input); err != nil {
		return failure(err), nil
	}
	if h.archive == nil {
		return failure(errArchiveDisabled), nil
	}

	entries, err := h.archive.List(input.Limit)
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(map[string]any{"archives": entries})
}

func (h *Handler) restoreArchive(args json.RawMessage) (*ToolCallResult, error) {
	var input RestoreArchiveInput
	if err := h.decode(args, &input); err != nil {
		return nil, err
	}
	if err := h.check(&input); err != nil {
		return failure(err), nil
	}
	if h.archive == nil {
		return failure(errArchiveDisabled), nil
	}

	thoughts, err := h.archive.Thoughts(*input.ArchiveID, h.store.Stages())
	if err != nil {
		return failure(err), nil
	}
	if err := h.store.Restore(thoughts); err != nil {
		return failure(err), nil
	}
	return ack(fmt.Sprintf("Restored archive %d (%d thoughts)", *input.ArchiveID, len(thoughts)))
}

func (h *Handler) decode(args json.RawMessage, dst any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// check runs struct validation, reporting the first failing field as a
// thought.ValidationError.
func (h *Handler) check(input any) error {
	err := h.validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	reason := "missing required field"
	if fe.Tag() != "required" {
		reason = fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	}
	return &thought.ValidationError{Field: fe.Field(), Reason: reason}
}

func jsonResult(v any) (*ToolCallResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: string(data)}},
	}, nil
}

func ack(message string) (*ToolCallResult, error) {
	return jsonResult(AckResult{Status: "success", Message: message})
}

// failure reports err as a failed tool call. Lock timeouts are marked
// retryable.
func failure(err error) *ToolCallResult {
	var r interface{ Retryable() bool }
	body := FailureResult{
		Error:     err.Error(),
		Status:    "failed",
		Retryable: errors.As(err, &r) && r.Retryable(),
	}
	data, _ := json.MarshalIndent(body, "", "  ")
	return &ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: string(data)}},
		IsError: true,
	}
}
