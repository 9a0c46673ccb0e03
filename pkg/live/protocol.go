// Package live implements the client side of the Gemini Live
// BidiGenerateContent protocol: the JSON envelope codec, base64 PCM audio
// chunks, and a WebSocket transport.
//
// Outbound envelopes use snake_case field names (setup, client_content,
// realtime_input, tool_response). Inbound envelopes arrive camelCase
// (setupComplete, serverContent, toolCall). Each outbound [ClientMessage]
// carries exactly one variant; [Encode] rejects anything else.
package live

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/parivox/pkg/audio"
)

const (
	// MIMETypePCM is the media type of outbound audio chunks.
	MIMETypePCM = "audio/pcm"

	// ModalityAudio requests spoken responses.
	ModalityAudio = "AUDIO"

	// RoleUser is the role of client-authored turns.
	RoleUser = "user"
)

// ErrInvalidMessage is returned by [Encode] when a [ClientMessage] does not
// carry exactly one variant.
var ErrInvalidMessage = errors.New("live: client message must carry exactly one variant")

// ── Outbound envelopes ─────────────────────────────────────────────────────────

// ClientMessage is the outbound envelope. Exactly one field must be set.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	ClientContent *ClientContent `json:"client_content,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtime_input,omitempty"`
	ToolResponse  *ToolResponse  `json:"tool_response,omitempty"`
}

// Kind returns the name of the populated variant, or "" if none or several
// are set.
func (m ClientMessage) Kind() string {
	kind, n := "", 0
	if m.Setup != nil {
		kind, n = "setup", n+1
	}
	if m.ClientContent != nil {
		kind, n = "client_content", n+1
	}
	if m.RealtimeInput != nil {
		kind, n = "realtime_input", n+1
	}
	if m.ToolResponse != nil {
		kind, n = "tool_response", n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

// Setup is the first message of every session.
type Setup struct {
	Model             string           `json:"model"`
	Tools             []Tool           `json:"tools,omitempty"`
	GenerationConfig  GenerationConfig `json:"generation_config"`
	SystemInstruction *Instruction     `json:"system_instruction,omitempty"`
}

// Tool groups the function declarations offered to the model.
type Tool struct {
	FunctionDeclarations []*genai.FunctionDeclaration `json:"function_declarations"`
}

// GenerationConfig selects the response modality and voice.
type GenerationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *SpeechConfig `json:"speech_config,omitempty"`
}

// SpeechConfig wraps the voice selection.
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voice_config"`
}

// VoiceConfig wraps the prebuilt voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

// PrebuiltVoiceConfig names one of the service's built-in voices.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

// Instruction is the persona system prompt.
type Instruction struct {
	Parts []TextPart `json:"parts"`
}

// TextPart is a text-only content part.
type TextPart struct {
	Text string `json:"text"`
}

// ClientContent injects conversation turns.
type ClientContent struct {
	Turns        []Turn `json:"turns"`
	TurnComplete bool   `json:"turn_complete"`
}

// Turn is one authored turn.
type Turn struct {
	Role  string     `json:"role"`
	Parts []TextPart `json:"parts"`
}

// RealtimeInput streams captured audio.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

// MediaChunk is one base64 encoded chunk of 16 kHz PCM.
type MediaChunk struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// ToolResponse acknowledges tool calls.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"function_responses"`
}

// FunctionResponse answers a single [FunctionCall]. ID must match the call.
type FunctionResponse struct {
	Response map[string]any `json:"response"`
	ID       string         `json:"id"`
	Name     string         `json:"name"`
}

// SetupParams describes the persona a session is configured for.
type SetupParams struct {
	Model       string
	Voice       string
	Instruction string
	Tools       []*genai.FunctionDeclaration
}

// NewSetup builds the setup envelope requesting audio output.
func NewSetup(p SetupParams) ClientMessage {
	s := &Setup{
		Model: p.Model,
		GenerationConfig: GenerationConfig{
			ResponseModalities: []string{ModalityAudio},
		},
	}
	if p.Voice != "" {
		s.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: p.Voice}},
		}
	}
	if p.Instruction != "" {
		s.SystemInstruction = &Instruction{Parts: []TextPart{{Text: p.Instruction}}}
	}
	if len(p.Tools) > 0 {
		s.Tools = []Tool{{FunctionDeclarations: p.Tools}}
	}
	return ClientMessage{Setup: s}
}

// NewTextTurn builds a client_content envelope with a single text turn.
func NewTextTurn(role, text string, turnComplete bool) ClientMessage {
	return ClientMessage{ClientContent: &ClientContent{
		Turns:        []Turn{{Role: role, Parts: []TextPart{{Text: text}}}},
		TurnComplete: turnComplete,
	}}
}

// contextTimeLayout renders the session start time for the model.
const contextTimeLayout = "Monday, January 2, 2006 at 3:04 PM MST"

// NewInitialContext builds the completed user turn sent right after setup. It
// hands the model the user's profile and summary, the wall-clock time, and the
// greeting instruction for the persona it is speaking as.
func NewInitialContext(userContext string, now time.Time, personaName string) ClientMessage {
	text := "[SYSTEM_UPDATE]\n" +
		"User Context: " + userContext + "\n" +
		"Current Date and Time: " + now.Format(contextTimeLayout) + "\n" +
		"Role: You are " + personaName + ".\n" +
		"Task: Greet the user based on the context. If you were just transferred, acknowledge it."
	return NewTextTurn(RoleUser, text, true)
}

// NewRealtimeAudio builds a realtime_input envelope for one encoded chunk.
func NewRealtimeAudio(data string) ClientMessage {
	return ClientMessage{RealtimeInput: &RealtimeInput{
		MediaChunks: []MediaChunk{{MIMEType: MIMETypePCM, Data: data}},
	}}
}

// NewToolResponse builds a tool_response envelope for one call.
func NewToolResponse(id, name string, response map[string]any) ClientMessage {
	return ClientMessage{ToolResponse: &ToolResponse{
		FunctionResponses: []FunctionResponse{{Response: response, ID: id, Name: name}},
	}}
}

// Encode marshals m after checking it carries exactly one variant.
func Encode(m ClientMessage) ([]byte, error) {
	if m.Kind() == "" {
		return nil, ErrInvalidMessage
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("live: marshal %s: %w", m.Kind(), err)
	}
	return data, nil
}

// ── Inbound envelopes ──────────────────────────────────────────────────────────

// ServerMessage is the inbound envelope. Any combination of fields may be
// set; unknown fields are ignored.
type ServerMessage struct {
	SetupComplete        *json.RawMessage      `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	Error                *ServerError          `json:"error,omitempty"`
}

// ServerContent carries model output.
type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// ModelTurn is a list of output parts.
type ModelTurn struct {
	Parts []Part `json:"parts"`
}

// Part is a single output part: transcript text, inline audio, or both.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64 encoded 24 kHz PCM.
type InlineData struct {
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

// Transcription is a speech recognition result.
type Transcription struct {
	Text string `json:"text"`
}

// ToolCall carries one or more function call requests.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FunctionCall is a single tool invocation request.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolCallCancellation lists calls the server no longer needs answered.
type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

// ServerError is an in-band error report.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// DecodeError reports a malformed inbound envelope.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("live: decode %d-byte message: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one inbound envelope. Malformed input yields a *[DecodeError].
func Decode(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Size: len(data), Err: err}
	}
	return &msg, nil
}

// ── Audio chunks ───────────────────────────────────────────────────────────────

// EncodeAudio serialises 16-bit PCM as base64 little-endian bytes.
func EncodeAudio(pcm []int16) string {
	return base64.StdEncoding.EncodeToString(audio.EncodePCM16LE(pcm))
}

// DecodeAudio parses a base64 little-endian 16-bit PCM chunk.
func DecodeAudio(data string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &DecodeError{Size: len(data), Err: err}
	}
	return audio.DecodePCM16LE(raw), nil
}
