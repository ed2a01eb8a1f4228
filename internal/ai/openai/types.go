package openai

// Content block types accepted by the responses endpoint.
const (
	contentTypeInputText = "input_text"
	contentTypeInputFile = "input_file"
)

// ContentBlock is one entry in an input message's content list.
type ContentBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

// TextBlock builds an input_text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: contentTypeInputText, Text: text}
}

// FileBlock builds an input_file content block referencing an uploaded file.
func FileBlock(fileID string) ContentBlock {
	return ContentBlock{Type: contentTypeInputFile, FileID: fileID}
}

// InputMessage is one replayed conversation turn in a responses request.
type InputMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// responsesRequest is the request body for the responses endpoint.
type responsesRequest struct {
	Model  string         `json:"model"`
	Input  []InputMessage `json:"input"`
	Stream bool           `json:"stream"`
}
